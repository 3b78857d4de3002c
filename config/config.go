package config

import (
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Board   BoardConfig   `mapstructure:"board"`
	Auth    AuthConfig    `mapstructure:"auth"`
	SMS     SMSConfig     `mapstructure:"sms"`
	Log     LogConfig     `mapstructure:"log"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type StoreConfig struct {
	Driver    string `mapstructure:"driver"` // redis, postgres, sqlite
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	DSN       string `mapstructure:"dsn"`
}

type BoardConfig struct {
	Host     string `mapstructure:"host"`
	PageSize int    `mapstructure:"page_size"`
}

type AuthConfig struct {
	PhoneSalt      string        `mapstructure:"phone_salt"`
	DisableSignups bool          `mapstructure:"disable_signups"`
	Operators      []string      `mapstructure:"operators"`
	PinTTL         time.Duration `mapstructure:"pin_ttl"`
	AttemptWindow  time.Duration `mapstructure:"attempt_window"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

type SMSConfig struct {
	From          string  `mapstructure:"from"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.dsn", "board.db")

	v.SetDefault("board.host", "localhost:3000")
	v.SetDefault("board.page_size", 10)

	v.SetDefault("auth.phone_salt", "")
	v.SetDefault("auth.disable_signups", false)
	v.SetDefault("auth.operators", []string{})
	v.SetDefault("auth.pin_ttl", 5*time.Minute)
	v.SetDefault("auth.attempt_window", 5*time.Minute)
	v.SetDefault("auth.max_attempts", 3)

	v.SetDefault("sms.from", "")
	v.SetDefault("sms.rate_per_second", 1.0)
	v.SetDefault("sms.burst", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("sentry.environment", "development")

	v.SetDefault("tracing.service_name", "board")
	v.SetDefault("tracing.insecure", true)
}

// Load 读取 config.yaml（可选）并叠加 BOARD_ 前缀环境变量
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from path, or from the default search
// locations when path is empty.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("BOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	ErrUnknownDriver = errors.New("store.driver must be redis, postgres or sqlite")
	ErrPageSize      = errors.New("board.page_size must be positive")
	ErrMaxAttempts   = errors.New("auth.max_attempts must be positive")
)

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "redis", "postgres", "sqlite":
	default:
		return ErrUnknownDriver
	}
	if c.Board.PageSize <= 0 {
		return ErrPageSize
	}
	if c.Auth.MaxAttempts <= 0 {
		return ErrMaxAttempts
	}
	return nil
}

// IsOperator reports whether uid is listed in auth.operators.
func (c *Config) IsOperator(uid string) bool { return c.Auth.IsOperator(uid) }

func (a AuthConfig) IsOperator(uid string) bool {
	return uid != "" && lo.Contains(a.Operators, uid)
}
