package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration. Policy tables live in
// internal/policy; this is wiring only.
type Server struct {
	Addr string

	// RateLimitDisabled turns enforcement off entirely (demo/testing).
	RateLimitDisabled bool

	Redis    RedisConfig
	Postgres PostgresConfig
	Anomaly  AnomalyConfig
}

// RedisConfig configures the optional Redis-backed window store.
// An empty URL means the in-memory store is used instead.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the optional durable decision log.
// An empty DSN means decisions are kept in memory only.
type PostgresConfig struct {
	DSN string
}

// AnomalyConfig configures the external anomaly scoring service client.
type AnomalyConfig struct {
	URL     string
	Timeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("VAULTGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	return Server{
		Addr:              addr,
		RateLimitDisabled: os.Getenv("VAULTGATE_RATELIMIT_DISABLED") == "true",
		Redis: RedisConfig{
			URL:          os.Getenv("VAULTGATE_REDIS_URL"),
			PoolSize:     envInt("VAULTGATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("VAULTGATE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("VAULTGATE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("VAULTGATE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("VAULTGATE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("VAULTGATE_POSTGRES_DSN"),
		},
		Anomaly: AnomalyConfig{
			URL:     os.Getenv("VAULTGATE_ML_SERVICE_URL"),
			Timeout: envDuration("VAULTGATE_ML_TIMEOUT", 5*time.Second),
		},
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
