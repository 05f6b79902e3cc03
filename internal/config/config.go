package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort    string
	DatabaseURL string
	LogMode     string
	LogLevel    string

	JWTSecret string
	TokenTTL  time.Duration

	ResponderURL           string
	ResponderTimeout       time.Duration
	ResponderUploadTimeout time.Duration

	GeminiAPIKey string
	TitleModel   string

	AdminEmails []string
	CORSOrigins []string

	RedisURL           string
	RateLimitPerMinute int

	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	MaxUploadBytes int64
}

// Load reads configuration from the environment, after loading a .env file if
// one is present. It reports whether a .env file was found so the caller can
// log it once a logger exists.
func Load() (*Config, bool, error) {
	dotenv := godotenv.Load() == nil

	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "assistant.db"),
		LogMode:     getEnv("LOG_MODE", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		TokenTTL:  getEnvAsDuration("TOKEN_TTL", 7*24*time.Hour),

		ResponderURL:           getEnv("RESPONDER_URL", ""),
		ResponderTimeout:       getEnvAsDuration("RESPONDER_TIMEOUT", 60*time.Second),
		ResponderUploadTimeout: getEnvAsDuration("RESPONDER_UPLOAD_TIMEOUT", 5*time.Minute),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		TitleModel:   getEnv("TITLE_MODEL", "gemini-1.5-flash-latest"),

		AdminEmails: getEnvAsList("ADMIN_EMAILS"),
		CORSOrigins: getEnvAsList("CORS_ORIGINS"),

		RedisURL:           getEnv("REDIS_URL", ""),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 10),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", ""),

		MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 25*1024*1024)),
	}

	if cfg.JWTSecret == "" {
		return nil, dotenv, errors.New("JWT_SECRET environment variable is required")
	}
	if cfg.ResponderURL == "" {
		return nil, dotenv, errors.New("RESPONDER_URL environment variable is required")
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return cfg, dotenv, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
