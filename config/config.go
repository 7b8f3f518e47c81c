package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// API Configuration
	APIPort        string
	APIHost        string
	APIEnvironment string
	CORSOrigins    []string

	// Database
	DBDriver      string
	DatabaseURL   string
	DBSSLMode     string
	DBSSLRootCert string

	// Redis
	RedisURL        string
	CacheTTLSeconds int

	// JWT & Security
	JWTSecret          string
	JWTExpirationHours int

	// Rate Limiting
	RateLimitRequestsPerMinute int
	RateLimitBurst             int

	// Logging
	LogLevel string

	// Sentry
	SentryDSN         string
	SentryEnvironment string

	// Automation
	EvaluationSchedule  string
	ProductName         string
	PipelineStages      []string
	WithdrawOnStageExit bool
}

// Load loads configuration from environment variables.
// A .env file in the working directory is read first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️  Failed to load .env file: %v", err)
	}

	return &Config{
		// API
		APIPort:        getEnv("API_PORT", "8080"),
		APIHost:        getEnv("API_HOST", "0.0.0.0"),
		APIEnvironment: getEnv("API_ENVIRONMENT", "development"),
		CORSOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		// Database
		DBDriver:      getEnv("DB_DRIVER", "sqlite3"),
		DatabaseURL:   getEnv("DATABASE_URL", "file:outreach.db?cache=shared&_fk=1"),
		DBSSLMode:     getEnv("DB_SSL_MODE", ""),
		DBSSLRootCert: getEnv("DB_SSL_ROOT_CERT", ""),

		// Redis
		RedisURL:        getEnv("REDIS_URL", ""),
		CacheTTLSeconds: getEnvAsInt("CACHE_TTL_SECONDS", 300),

		// JWT
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),

		// Rate Limiting
		RateLimitRequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 120),
		RateLimitBurst:             getEnvAsInt("RATE_LIMIT_BURST", 20),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Sentry
		SentryDSN:         getEnv("SENTRY_DSN", ""),
		SentryEnvironment: getEnv("SENTRY_ENVIRONMENT", "development"),

		// Automation
		EvaluationSchedule:  getEnv("EVALUATION_SCHEDULE", "@every 15m"),
		ProductName:         getEnv("PRODUCT_NAME", ""),
		PipelineStages:      getEnvAsList("PIPELINE_STAGES", nil),
		WithdrawOnStageExit: getEnvAsBool("WITHDRAW_ON_STAGE_EXIT", true),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsList splits a comma separated value, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
