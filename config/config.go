// Package config loads the application settings of the orquesta binary
// from environment variables and an optional orquesta.yaml file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/orquesta/orquesta"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config holds every application setting.
type Config struct {
	Port        int    `mapstructure:"port"`
	AppEnv      string `mapstructure:"app_env"`
	ServiceName string `mapstructure:"service_name"`

	Telegram Telegram `mapstructure:"telegram"`
	Store    Store    `mapstructure:"store"`
	Log      Log      `mapstructure:"log"`
	Statsd   Statsd   `mapstructure:"statsd"`
	Engine   Engine   `mapstructure:"engine"`
}

// Telegram holds bot credentials. Empty values enable demo mode.
type Telegram struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	BaseURL  string `mapstructure:"base_url"`
}

// Store selects and configures the persistence backend.
type Store struct {
	Driver        string `mapstructure:"driver"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Statsd configures the DogStatsD metrics extension. An empty Addr
// disables it.
type Statsd struct {
	Addr string `mapstructure:"addr"`
}

// Engine tunes the workflow engine.
type Engine struct {
	Concurrency      int           `mapstructure:"concurrency"`
	DefaultRetries   int           `mapstructure:"default_retries"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	CronTickInterval time.Duration `mapstructure:"cron_tick_interval"`
	OnboardingDelay  time.Duration `mapstructure:"onboarding_delay"`
}

// env maps config keys to environment variables.
var env = map[string]string{
	"port":                      "PORT",
	"app_env":                   "APP_ENV",
	"service_name":              "SERVICE_NAME",
	"telegram.bot_token":        "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":          "TELEGRAM_CHAT_ID",
	"telegram.base_url":         "TELEGRAM_BASE_URL",
	"store.driver":              "STORE_DRIVER",
	"store.redis_addr":          "REDIS_ADDR",
	"store.redis_password":      "REDIS_PASSWORD",
	"store.redis_db":            "REDIS_DB",
	"store.postgres_dsn":        "POSTGRES_DSN",
	"log.level":                 "LOG_LEVEL",
	"log.format":                "LOG_FORMAT",
	"statsd.addr":               "STATSD_ADDR",
	"engine.concurrency":        "ENGINE_CONCURRENCY",
	"engine.default_retries":    "ENGINE_DEFAULT_RETRIES",
	"engine.shutdown_timeout":   "ENGINE_SHUTDOWN_TIMEOUT",
	"engine.cron_tick_interval": "ENGINE_CRON_TICK_INTERVAL",
	"engine.onboarding_delay":   "ONBOARDING_DELAY",
}

func setDefaults(v *viper.Viper) {
	def := orquesta.DefaultConfig()

	v.SetDefault("port", 3000)
	v.SetDefault("app_env", "development")
	v.SetDefault("service_name", "orquesta")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("engine.concurrency", def.Concurrency)
	v.SetDefault("engine.default_retries", def.DefaultRetries)
	v.SetDefault("engine.shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("engine.cron_tick_interval", def.CronTickInterval)
	v.SetDefault("engine.onboarding_delay", 10*time.Second)
}

// Load reads the configuration. If file is empty, orquesta.yaml is looked
// up in the working directory and skipped when absent. Environment
// variables override the file.
func Load(file string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", name, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("orquesta")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected store driver has what it needs.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return &orquesta.ConfigError{Key: "REDIS_ADDR"}
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return &orquesta.ConfigError{Key: "POSTGRES_DSN"}
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Port <= 0 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	return nil
}

// Production reports whether APP_ENV names a production deployment.
func (c Config) Production() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production"
}

// Addr is the HTTP listen address.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// EngineConfig returns the engine configuration with the overrides
// applied over the defaults.
func (c Config) EngineConfig() orquesta.Config {
	cfg := orquesta.DefaultConfig()
	if c.Engine.Concurrency > 0 {
		cfg.Concurrency = c.Engine.Concurrency
	}
	if c.Engine.DefaultRetries >= 0 {
		cfg.DefaultRetries = c.Engine.DefaultRetries
	}
	if c.Engine.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = c.Engine.ShutdownTimeout
	}
	if c.Engine.CronTickInterval > 0 {
		cfg.CronTickInterval = c.Engine.CronTickInterval
	}
	return cfg
}

// NewLogger builds the process logger from Log.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
