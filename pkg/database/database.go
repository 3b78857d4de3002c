// Package database builds storage clients from configuration.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/board/config"
	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/pkg/logger"
)

var ErrNotSQL = errors.New("database: store.driver is not a SQL driver")

// InitDB 打开 gorm 连接并建表；仅用于 postgres / sqlite
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Store.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Store.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.Store.DSN)
	default:
		return nil, ErrNotSQL
	}

	level := gormlogger.Warn
	if cfg.Log.Development {
		level = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("database.InitDB.Open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database.InitDB.DB: %w", err)
	}
	if cfg.Store.Driver == "sqlite" {
		// sqlite 只允许单写
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := kv.Migrate(db); err != nil {
		return nil, fmt.Errorf("database.InitDB.Migrate: %w", err)
	}
	return db, nil
}

// InitRedis 创建 redis 客户端并 ping 一次
func InitRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Store.RedisAddr,
		DB:   cfg.Store.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("database.InitRedis: %w", err)
	}
	return client, nil
}

// Store bundles the bucket opener with the handles behind it.
type Store struct {
	Open  kv.Opener
	Sweep kv.SweepFunc
	DB    *gorm.DB // nil for redis
	Redis *redis.Client
}

// Close releases the underlying connections.
func (s *Store) Close() error {
	if s.Redis != nil {
		return s.Redis.Close()
	}
	if s.DB != nil {
		sqlDB, err := s.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// OpenStore 按 store.driver 打开存储；每个桶的 Store 都带 tracing
func OpenStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	if cfg.Store.Driver == "redis" {
		client, err := InitRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("store opened", zap.String("driver", "redis"), zap.String("addr", cfg.Store.RedisAddr))
		return &Store{
			Open:  kv.TracedOpener(kv.RedisOpener(client)),
			Sweep: kv.RedisSweeper(client, kv.BucketPins, kv.BucketLogins),
			Redis: client,
		}, nil
	}

	db, err := InitDB(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("store opened", zap.String("driver", cfg.Store.Driver))
	return &Store{Open: kv.TracedOpener(kv.SQLOpener(db)), Sweep: kv.SQLSweeper(db), DB: db}, nil
}
