// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries the process configuration. Environment variables provide
// the defaults; CLI flags may override individual values on top.
type Config struct {
	Port            int           `env:"ITEMDECK_PORT" envDefault:"8080"`
	AdminPort       int           `env:"ITEMDECK_ADMIN_PORT" envDefault:"8383"`
	DBPath          string        `env:"ITEMDECK_DB_PATH"`
	ReadOnly        bool          `env:"ITEMDECK_READ_ONLY" envDefault:"false"`
	PublicDir       string        `env:"ITEMDECK_PUBLIC_DIR" envDefault:"public"`
	ShutdownTimeout time.Duration `env:"ITEMDECK_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// FromEnv parses configuration from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
