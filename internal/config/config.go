// Package config loads service configuration from the environment, with
// sane defaults for local development. A .env file is honored when present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the service.
type Config struct {
	HTTPAddr string

	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	JWTSecret []byte
	JWTTTL    time.Duration

	// Default rate-limit window applied to most socket events.
	RateLimitPoints   int
	RateLimitDuration time.Duration
	// Dedicated, deliberately small send_message budget: a handful of
	// messages per few seconds blunts floods without hurting normal typing.
	SendLimitPoints   int
	SendLimitDuration time.Duration

	MaxContentLength int

	NotifyQueue      string
	NotifyDeadLetter string
	MaxJobAttempts   int
	JobBackoffBase   time.Duration

	TelegramBotToken string
}

// Load reads the environment (and an optional .env file) into a Config.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		PostgresDSN: getEnv("POSTGRES_DSN",
			"host=localhost user=roomrelay password=roomrelay dbname=roomrelay port=5432 sslmode=disable"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_KEY_PREFIX", ""),

		JWTSecret: []byte(getEnv("JWT_SECRET", "dev-only-secret-change-me")),
		JWTTTL:    getEnvDuration("JWT_TTL", 72*time.Hour),

		RateLimitPoints:   getEnvInt("RATE_LIMIT_POINTS", 120),
		RateLimitDuration: getEnvDuration("RATE_LIMIT_DURATION", time.Minute),
		SendLimitPoints:   getEnvInt("SEND_LIMIT_POINTS", 5),
		SendLimitDuration: getEnvDuration("SEND_LIMIT_DURATION", 3*time.Second),

		MaxContentLength: getEnvInt("MAX_CONTENT_LENGTH", 2000),

		NotifyQueue:      getEnv("NOTIFY_QUEUE", "notifications"),
		NotifyDeadLetter: getEnv("NOTIFY_DLQ", "notifications:dlq"),
		MaxJobAttempts:   getEnvInt("NOTIFY_MAX_ATTEMPTS", 3),
		JobBackoffBase:   getEnvDuration("NOTIFY_BACKOFF_BASE", 500*time.Millisecond),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
