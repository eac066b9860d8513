package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	SearchURL   string `mapstructure:"SEARCH_URL"`
	SearchIndex string `mapstructure:"SEARCH_INDEX"`

	AMQPURL     string `mapstructure:"AMQP_URL"`
	SyncQueue   string `mapstructure:"SYNC_QUEUE"`
	SyncWorkers int    `mapstructure:"SYNC_WORKERS"`

	RelayBatchSize  int `mapstructure:"RELAY_BATCH_SIZE"`
	RelayIntervalMS int `mapstructure:"RELAY_INTERVAL_MS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SEARCH_INDEX", "patient")
	v.SetDefault("SYNC_QUEUE", "patient.changes")
	v.SetDefault("SYNC_WORKERS", 4)
	v.SetDefault("RELAY_BATCH_SIZE", 100)
	v.SetDefault("RELAY_INTERVAL_MS", 500)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("SEARCH_URL")
	v.BindEnv("SEARCH_INDEX")
	v.BindEnv("AMQP_URL")
	v.BindEnv("SYNC_QUEUE")
	v.BindEnv("SYNC_WORKERS")
	v.BindEnv("RELAY_BATCH_SIZE")
	v.BindEnv("RELAY_INTERVAL_MS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks settings beyond what every subcommand needs. The API
// server needs the search endpoint; the sync worker additionally needs the
// broker URL.
func (c *Config) Validate(needBroker bool) error {
	if c.SearchURL == "" {
		return fmt.Errorf("SEARCH_URL is required")
	}
	if needBroker && c.AMQPURL == "" {
		return fmt.Errorf("AMQP_URL is required for the sync worker")
	}
	if c.SyncWorkers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be at least 1, got %d", c.SyncWorkers)
	}
	return nil
}
