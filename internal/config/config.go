package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string

	// RepositoryURL is the base URL of the Assessment Repository REST API,
	// e.g. "https://olpm.example.com/api". Paths /tests/... are appended to it.
	RepositoryURL  string
	APIToken       string
	RequestTimeout time.Duration

	TickInterval time.Duration
	AttemptTTL   time.Duration
	// CreateRatePerMinute caps attempt creation per client IP. 0 disables it.
	CreateRatePerMinute int

	// MonitorToken guards the proctor monitor. Empty disables the monitor.
	MonitorToken string

	// RedisURL enables the monitor fan-out when set.
	RedisURL string
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		RepositoryURL:  strings.TrimSuffix(getEnv("REPOSITORY_URL", "http://localhost:5000/api"), "/"),
		APIToken:       getEnv("API_TOKEN", ""),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		TickInterval:   time.Duration(getEnvInt("TICK_INTERVAL_MS", 1000)) * time.Millisecond,
		AttemptTTL:     time.Duration(getEnvInt("ATTEMPT_TTL_MINUTES", 60)) * time.Minute,

		CreateRatePerMinute: getEnvNonNegativeInt("ATTEMPT_CREATE_PER_MINUTE", 30),
		MonitorToken:        getEnv("MONITOR_TOKEN", ""),

		RedisURL:       getEnv("REDIS_URL", ""),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

// RedisEnabled reports whether engine events are fanned out through Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// getEnvNonNegativeInt is getEnvInt for settings where 0 means "off".
func getEnvNonNegativeInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
