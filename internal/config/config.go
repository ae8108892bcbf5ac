package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ksred/wuyi-market/internal/validate"
	"github.com/spf13/viper"
)

const cfgName = "application"

// ServerConfig HTTP server settings
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// DatabaseConfig selects the gorm dialector and its DSN
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, mysql or postgres
	DSN    string `mapstructure:"dsn"`
}

// TradeConfig holds the reservation and order-id settings
type TradeConfig struct {
	OrderPrefix       string        `mapstructure:"order_prefix"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl"`
	JanitorInterval   time.Duration `mapstructure:"janitor_interval"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
}

// Config is the full application configuration
type Config struct {
	Env      string         `mapstructure:"env"`
	Debug    bool           `mapstructure:"debug"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Trade    TradeConfig    `mapstructure:"trade"`
}

// IsProduction reports whether ENV=production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads defaults, then application.yml from . or ./config when present,
// then the environment. PORT, ENV and DEBUG keep their plain names.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(cfgName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	bindings := map[string]string{
		"env":                       "ENV",
		"debug":                     "DEBUG",
		"server.port":               "PORT",
		"database.driver":           "DB_DRIVER",
		"database.dsn":              "DB_DSN",
		"trade.order_prefix":        "ORDER_PREFIX",
		"trade.idempotency_ttl":     "IDEMPOTENCY_TTL",
		"trade.janitor_interval":    "JANITOR_INTERVAL",
		"trade.requests_per_minute": "REQUESTS_PER_MINUTE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, useful for tests and tools
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("debug", false)
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "wuyi.db")
	v.SetDefault("trade.order_prefix", "DD")
	v.SetDefault("trade.idempotency_ttl", 24*time.Hour)
	v.SetDefault("trade.janitor_interval", 10*time.Minute)
	v.SetDefault("trade.requests_per_minute", 100.0)
}

// Validate checks the values that would otherwise fail deep inside a request
func (c *Config) Validate() error {
	prefix, err := validate.OrderPrefix(c.Trade.OrderPrefix).Get()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.Trade.OrderPrefix = strings.ToUpper(prefix)

	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("invalid config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("invalid config: database dsn is required")
	}
	if c.Server.Port == "" {
		return errors.New("invalid config: server port is required")
	}
	if c.Trade.IdempotencyTTL <= 0 || c.Trade.JanitorInterval <= 0 {
		return errors.New("invalid config: idempotency ttl and janitor interval must be positive")
	}
	if c.Trade.RequestsPerMinute <= 0 {
		return errors.New("invalid config: requests per minute must be positive")
	}
	return nil
}
