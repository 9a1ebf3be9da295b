package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	DBPath  string `env:"DB_PATH" envDefault:"treasury.db"`
	Workers int    `env:"WORKERS" envDefault:"4"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	SweepBatchSize    int           `env:"SWEEP_BATCH_SIZE" envDefault:"500"`

	BankAPIURL     string        `env:"BANK_API_URL"`
	BankAPITimeout time.Duration `env:"BANK_API_TIMEOUT" envDefault:"10s"`
	ProbeMaxTries  uint          `env:"PROBE_MAX_TRIES" envDefault:"3"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 500
	}
	return cfg, nil
}
