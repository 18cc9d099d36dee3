package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration so main stays lean.
type Config struct {
	Addr        string
	DatabaseURL string
	Redis       RedisConfig

	JWTSigningKey string

	CrawlerBaseURL string
	LLMBaseURL     string
	LLMAPIKey      string

	KafkaBrokers []string
	KafkaTopic   string

	// Anonymous abuse throttle on audit creation, per client IP.
	AnonRatePerMinute int
	AnonBurst         int

	ShutdownTimeout time.Duration
}

// RedisConfig holds connection settings for the redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:           envOr("SITECHECK_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSigningKey:  os.Getenv("JWT_SIGNING_KEY"),
		CrawlerBaseURL: envOr("CRAWLER_BASE_URL", "http://localhost:8090"),
		LLMBaseURL:     envOr("LLM_BASE_URL", "http://localhost:8091"),
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		KafkaTopic:     envOr("KAFKA_AUDIT_TOPIC", "sitecheck.audit.events"),

		AnonRatePerMinute: envIntOr("ANON_RATE_PER_MINUTE", 6),
		AnonBurst:         envIntOr("ANON_BURST", 3),

		ShutdownTimeout: 10 * time.Second,

		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if cfg.JWTSigningKey == "" {
		// Development default; must be overridden in production.
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
