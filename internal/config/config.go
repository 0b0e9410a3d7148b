package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string

	NatsHost string
	NatsPort string

	ApiPort string

	// DailyCap is the maximum number of credits a user may commit per UTC day.
	DailyCap int64

	// ReservationTTL is how long a reservation may stay un-finalized before
	// the reconciler refunds it.
	ReservationTTL time.Duration

	// ReconcileInterval is how often the reconciler sweeps for stale holds.
	ReconcileInterval time.Duration
}

// New loads and validates configuration from environment variables.
// NATS is optional: with no STEFNA_NATS_HOST the service runs with a no-op
// event bus and the generation-callback subscriber is not started.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:            os.Getenv("STEFNA_POSTGRES_USER"),
		DBPass:            os.Getenv("STEFNA_POSTGRES_PASSWORD"),
		DBHost:            os.Getenv("STEFNA_POSTGRES_HOST"),
		DBPort:            getEnv("STEFNA_POSTGRES_PORT", "5432"),
		DBName:            os.Getenv("STEFNA_POSTGRES_DB"),
		SSLMode:           getEnv("STEFNA_POSTGRES_SSLMODE", "disable"),
		RedisHost:         os.Getenv("STEFNA_REDIS_HOST"),
		RedisPort:         getEnv("STEFNA_REDIS_PORT", "6379"),
		NatsHost:          os.Getenv("STEFNA_NATS_HOST"),
		NatsPort:          getEnv("STEFNA_NATS_PORT", "4222"),
		ApiPort:           getEnv("STEFNA_API_PORT", "8080"),
		DailyCap:          getEnvInt64("STEFNA_DAILY_CAP", 30),
		ReservationTTL:    getEnvDuration("STEFNA_RESERVATION_TTL", 15*time.Minute),
		ReconcileInterval: getEnvDuration("STEFNA_RECONCILE_INTERVAL", time.Minute),
	}

	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("missing required env for database: STEFNA_POSTGRES_USER/HOST/DB")
	}

	if cfg.RedisHost == "" {
		return nil, fmt.Errorf("missing required env: STEFNA_REDIS_HOST")
	}

	if cfg.DailyCap <= 0 {
		return nil, fmt.Errorf("STEFNA_DAILY_CAP must be positive, got %d", cfg.DailyCap)
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) NatsConfigured() bool {
	return c.NatsHost != ""
}

func (c *Config) ApiAddr() string {
	return ":" + c.ApiPort
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
