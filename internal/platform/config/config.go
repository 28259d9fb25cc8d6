package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Story store backends selectable via STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	AppEnv       string `env:"APP_ENV" default:"development"`
	Port         string `env:"PORT" default:"8080"`
	LogLevel     string `env:"LOG_LEVEL" default:"info"`
	LogFormat    string `env:"LOG_FORMAT" default:"text"`
	StoreBackend string `env:"STORE_BACKEND" default:"memory"`
	DatabaseURL  string `env:"DATABASE_URL"`
	RedisURL     string `env:"REDIS_URL"`

	// Fixture loaded into the memory backend at startup; empty means the demo set.
	SeedFile string `env:"SEED_FILE"`

	// Bounds a single vote's store write; zero disables the bound.
	VotePersistTimeout time.Duration `env:"VOTE_PERSIST_TIMEOUT" default:"3s"`

	// Drops idle cached tallies so increments from other instances become
	// visible; zero disables refreshing.
	ViewRefreshInterval time.Duration `env:"VIEW_REFRESH_INTERVAL" default:"0s"`

	VoteRateLimit float64 `env:"VOTE_RATE_LIMIT" default:"5"`
	VoteRateBurst int     `env:"VOTE_RATE_BURST" default:"10"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres, redis; got %q", cfg.StoreBackend)
	}

	if cfg.VotePersistTimeout < 0 {
		return errors.New("VOTE_PERSIST_TIMEOUT must not be negative")
	}
	if cfg.ViewRefreshInterval < 0 {
		return errors.New("VIEW_REFRESH_INTERVAL must not be negative")
	}
	if cfg.VoteRateLimit <= 0 {
		return errors.New("VOTE_RATE_LIMIT must be positive")
	}
	if cfg.VoteRateBurst < 1 {
		return errors.New("VOTE_RATE_BURST must be at least 1")
	}

	return nil
}
