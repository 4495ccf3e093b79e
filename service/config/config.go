package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Explorer configuration
	ExplorerBaseURL string
	ExplorerCookie  string
	HTTPTimeout     time.Duration

	// Database configuration (optional, persistence is disabled when empty)
	DatabaseURL string

	// NATS configuration (optional, publishing is disabled when empty)
	NATSURL string

	// Record cache size (0 disables the cache)
	CacheSize int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Explorer configuration
	cfg.ExplorerBaseURL = strings.TrimRight(os.Getenv("EXPLORER_BASE_URL"), "/")
	if cfg.ExplorerBaseURL == "" {
		errs = append(errs, fmt.Errorf("EXPLORER_BASE_URL is required"))
	} else if err := validateBaseURL(cfg.ExplorerBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("EXPLORER_BASE_URL: %w", err))
	}
	cfg.ExplorerCookie = os.Getenv("EXPLORER_COOKIE")

	timeout, err := parseDuration("HTTP_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HTTPTimeout = timeout
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	cacheSize, err := parseInt("CACHE_SIZE", 1024)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.CacheSize = cacheSize
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ExplorerBaseURL == "" {
		errs = append(errs, fmt.Errorf("ExplorerBaseURL is required"))
	} else if err := validateBaseURL(c.ExplorerBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("ExplorerBaseURL: %w", err))
	}

	if c.HTTPTimeout < time.Second {
		errs = append(errs, fmt.Errorf("HTTPTimeout must be at least 1 second"))
	}

	if c.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("CacheSize cannot be negative"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LogLevel must be one of debug, info, warn, error (got %q)", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// validateBaseURL requires an absolute http(s) URL.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
