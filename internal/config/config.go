// Package config loads server settings from UXT_* environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port     int    `env:"UXT_PORT" envDefault:"3001"`
	DBPath   string `env:"UXT_DB_PATH" envDefault:"./uxtest.db"`
	LogLevel string `env:"UXT_LOG_LEVEL" envDefault:"info"`
	SeedDemo bool   `env:"UXT_SEED_DEMO" envDefault:"false"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
