// Package config содержит логику чтения конфигурации сервиса Greenway.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress            string `env:"RUN_ADDRESS"`
	DatabaseURI           string `env:"DATABASE_URI"`
	OrderingSystemAddress string `env:"ORDERING_SYSTEM_ADDRESS"`
	OrderingAPIKey        string `env:"ORDERING_API_KEY"`
	RedisURL              string `env:"REDIS_URL"`
	CatalogPath           string `env:"CATALOG_PATH"`
	BlogPath              string `env:"BLOG_PATH"`
	NATSURL               string `env:"NATS_URL"`
	AuthSecret            string `env:"AUTH_SECRET"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`

	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	SessionTimeout    time.Duration `env:"SESSION_TIMEOUT" envDefault:"2s"`
	OrderPollInterval time.Duration `env:"ORDER_POLL_INTERVAL" envDefault:"1s"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory ledger when empty")
	flag.StringVar(&cfg.OrderingSystemAddress, "r", "", "ordering system address")
	flag.StringVar(&cfg.RedisURL, "s", "", "redis URL for sessions, in-process store when empty")
	flag.StringVar(&cfg.CatalogPath, "c", "", "path to the loyalty catalog YAML, embedded default when empty")
	flag.StringVar(&cfg.BlogPath, "b", "", "path to the blog posts YAML, embedded default when empty")

	flag.Parse()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL))
	}
	if c.SessionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TIMEOUT must be positive, got %s", c.SessionTimeout))
	}
	if c.OrderPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ORDER_POLL_INTERVAL must be positive, got %s", c.OrderPollInterval))
	}
	return errors.Join(errs...)
}
