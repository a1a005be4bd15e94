// Package config builds process configuration from environment variables so
// main stays lean. Missing values fall back to development defaults; anything
// secret must be overridden in production.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	DatabaseURL   string
	JWTSigningKey string
	JWTIssuer     string

	Redis   Redis
	Kafka   Kafka
	Webhook Webhook
}

// Redis captures connection settings for the scheduler lease client.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka captures the domain-event intake settings. Empty Brokers disables the
// intake consumer.
type Kafka struct {
	Brokers []string
	Topic   string
	Group   string
}

// Webhook captures dispatch and retry tuning.
type Webhook struct {
	// DeliveryTimeout is the hard deadline for one delivery attempt.
	DeliveryTimeout time.Duration
	// DefaultMaxAttempts applies to subscriptions that don't set their own.
	DefaultMaxAttempts int
	// RetryBatchSize bounds how many due records one scheduler run claims.
	RetryBatchSize int
	// PollInterval > 0 runs the retry scheduler on an internal ticker in
	// addition to the external cron endpoint.
	PollInterval time.Duration
	// LeaseTTL bounds how long one scheduler run holds the run lease.
	LeaseTTL time.Duration
	// FanoutConcurrency bounds parallel outbound sends per dispatch/batch.
	FanoutConcurrency int
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:          getenv("INCENTRA_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSigningKey: getenv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     getenv("JWT_ISSUER", "incentra"),
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getint("REDIS_POOL_SIZE", 10),
			MinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getdur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getdur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getdur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers: split(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenv("KAFKA_EVENTS_TOPIC", "incentra.domain-events"),
			Group:   getenv("KAFKA_CONSUMER_GROUP", "webhook-dispatcher"),
		},
		Webhook: Webhook{
			DeliveryTimeout:    getdur("WEBHOOK_DELIVERY_TIMEOUT", 30*time.Second),
			DefaultMaxAttempts: getint("WEBHOOK_MAX_ATTEMPTS", 5),
			RetryBatchSize:     getint("WEBHOOK_RETRY_BATCH_SIZE", 100),
			PollInterval:       getdur("WEBHOOK_POLL_INTERVAL", 0),
			LeaseTTL:           getdur("WEBHOOK_LEASE_TTL", time.Minute),
			FanoutConcurrency:  getint("WEBHOOK_FANOUT_CONCURRENCY", 8),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func split(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
