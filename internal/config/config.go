// Package config содержит логику чтения конфигурации сервиса магазина монет.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/coinshop/internal/model"
)

// Config содержит параметры конфигурации сервиса магазина монет.
type Config struct {
	RunAddress           string              `env:"RUN_ADDRESS"`
	DatabaseURI          string              `env:"DATABASE_URI"`
	PaymentSystemAddress string              `env:"PAYMENT_SYSTEM_ADDRESS"`
	ExecutionMode        model.ExecutionMode `env:"EXECUTION_MODE"`
	AuthSecret           string              `env:"AUTH_SECRET"`
	FallbackCurrency     model.Currency      `env:"FALLBACK_CURRENCY" envDefault:"EUR"`
	PaymentRetryMax      int                 `env:"PAYMENT_RETRY_MAX" envDefault:"2"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPaymentAddress := cfg.PaymentSystemAddress
	envMode := cfg.ExecutionMode
	envSecret := cfg.AuthSecret

	var mode string
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentSystemAddress, "p", "", "payment system address")
	flag.StringVar(&mode, "m", string(model.ModeProduction), "execution mode: production or development")
	flag.StringVar(&cfg.AuthSecret, "s", "coinshop-secret", "auth cookie signing secret")

	flag.Parse()

	cfg.ExecutionMode = model.ExecutionMode(mode)

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPaymentAddress != "" {
		cfg.PaymentSystemAddress = envPaymentAddress
	}
	if envMode != "" {
		cfg.ExecutionMode = envMode
	}
	if envSecret != "" {
		cfg.AuthSecret = envSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if !cfg.ExecutionMode.Valid() {
		return nil, fmt.Errorf("unknown execution mode %q", cfg.ExecutionMode)
	}
	if !cfg.FallbackCurrency.Valid() {
		return nil, fmt.Errorf("unsupported fallback currency %q", cfg.FallbackCurrency)
	}
	if cfg.PaymentRetryMax < 0 {
		return nil, fmt.Errorf("payment retry max must not be negative, got %d", cfg.PaymentRetryMax)
	}

	return cfg, nil
}
