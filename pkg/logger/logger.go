// Package logger holds the process-wide zap logger.
package logger

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	log    = zap.NewNop()
	report bool
)

// Init 初始化全局 logger
func Init(level string, development bool) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set replaces the global logger; tests use it with zaptest or observer cores.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Sync() {
	_ = L().Sync()
	mu.RLock()
	enabled := report
	mu.RUnlock()
	if enabled {
		sentry.Flush(2 * time.Second)
	}
}

// InitSentry enables error reporting. An empty dsn leaves it disabled.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: environment}); err != nil {
		return err
	}
	mu.Lock()
	report = true
	mu.Unlock()
	return nil
}

// Report logs err at error level and forwards it to sentry when enabled.
func Report(msg string, err error, fields ...zap.Field) {
	L().Error(msg, append(fields, zap.Error(err))...)
	mu.RLock()
	enabled := report
	mu.RUnlock()
	if enabled {
		sentry.CaptureException(err)
	}
}
