// Package config builds runtime configuration from the environment so main
// stays lean. A local .env file is honored in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures everything the server needs from the environment.
type Config struct {
	Addr string

	DatabaseURL string
	RedisURL    string

	// KafkaBrokers is optional; empty disables the audit outbox worker.
	KafkaBrokers              []string
	AuditTopic                string
	SessionSecret             string
	SessionTTL                time.Duration
	ResetTokenTTL             time.Duration
	ExpiryReminderDaysDefault int
	ReconcilerInterval        time.Duration
}

// Load reads configuration from the environment, applying defaults suitable
// for development. Production deployments must set SESSION_SECRET.
func Load() (Config, error) {
	// Missing .env is fine; env vars win either way.
	_ = godotenv.Load()

	cfg := Config{
		Addr:          getEnv("BIMA_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		AuditTopic:    getEnv("AUDIT_TOPIC", "bima.audit.v1"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		SessionTTL:    12 * time.Hour,
		ResetTokenTTL: 30 * time.Minute,
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "dev-secret-change-in-production"
	}

	days, err := getEnvInt("EXPIRY_REMINDER_DAYS_DEFAULT", 30)
	if err != nil {
		return Config{}, err
	}
	cfg.ExpiryReminderDaysDefault = days

	interval, err := getEnvDuration("RECONCILER_INTERVAL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconcilerInterval = interval

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
