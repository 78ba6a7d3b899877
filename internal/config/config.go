package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort    string
	DatabaseURL   string
	RedisURL      string
	JWTSecret     string
	WebhookSecret string
	OriginURL     string
	AllowedOrigin string
	EdgeRegion    string

	// VelocityFailOpen controls whether payment velocity checks allow the
	// request when the durable store is unreachable. General rate limiting
	// always fails open; this one is a deliberate knob because it gates money.
	VelocityFailOpen bool
}

func Load() (*Config, error) {
	godotenv.Load()

	return &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:        getEnv("JWT_SECRET", "secret"),
		WebhookSecret:    getEnv("SQUARE_WEBHOOK_SECRET", ""),
		OriginURL:        getEnv("ORIGIN_URL", "http://localhost:3000"),
		AllowedOrigin:    getEnv("ALLOWED_ORIGIN", "*"),
		EdgeRegion:       getEnv("EDGE_REGION", "unknown"),
		VelocityFailOpen: getEnvBool("VELOCITY_FAIL_OPEN", true),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultVal
}
