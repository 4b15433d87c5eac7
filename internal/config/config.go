package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port          string        `env:"PORT" envDefault:"8080"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	Topics        []string      `env:"TOPICS" envSeparator:","`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	ExportEnabled bool          `env:"EXPORT_ENABLED" envDefault:"false"`
	ExportFile    string        `env:"EXPORT_FILE" envDefault:"./drawchain-artifacts.txt"`
}

func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
