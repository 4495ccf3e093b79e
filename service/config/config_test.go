package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	os.Setenv("EXPLORER_BASE_URL", "https://v2ex.com/")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://v2ex.com", cfg.ExplorerBaseURL) // trailing slash trimmed
	assert.Equal(t, ":8080", cfg.ServerAddr)                 // Default
	assert.Equal(t, "info", cfg.LogLevel)                    // Default
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 1024, cfg.CacheSize)
	assert.Empty(t, cfg.ExplorerCookie)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_MissingBaseURL(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "EXPLORER_BASE_URL is required")
}

func TestLoad_InvalidBaseURL(t *testing.T) {
	os.Setenv("EXPLORER_BASE_URL", "ftp://v2ex.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "scheme must be http or https")
}

func TestLoad_InvalidTimeout(t *testing.T) {
	os.Setenv("EXPLORER_BASE_URL", "https://v2ex.com")
	os.Setenv("HTTP_TIMEOUT", "invalid")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_InvalidCacheSize(t *testing.T) {
	os.Setenv("EXPLORER_BASE_URL", "https://v2ex.com")
	os.Setenv("CACHE_SIZE", "lots")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid integer")
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("EXPLORER_BASE_URL", "http://localhost:3000")
	os.Setenv("EXPLORER_COOKIE", "A2=abc; PB3_SESSION=xyz")
	os.Setenv("HTTP_TIMEOUT", "5s")
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("DATABASE_URL", "postgres://localhost/tx2json")
	os.Setenv("NATS_URL", "nats://localhost:4222")
	os.Setenv("CACHE_SIZE", "0")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.ExplorerBaseURL)
	assert.Equal(t, "A2=abc; PB3_SESSION=xyz", cfg.ExplorerCookie)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://localhost/tx2json", cfg.DatabaseURL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 0, cfg.CacheSize)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ExplorerBaseURL: "https://v2ex.com",
			HTTPTimeout:     30 * time.Second,
			CacheSize:       16,
			LogLevel:        "info",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing base url", mutate: func(c *Config) { c.ExplorerBaseURL = "" }, wantErr: "ExplorerBaseURL is required"},
		{name: "relative base url", mutate: func(c *Config) { c.ExplorerBaseURL = "/solana" }, wantErr: "scheme must be http or https"},
		{name: "short timeout", mutate: func(c *Config) { c.HTTPTimeout = time.Millisecond }, wantErr: "HTTPTimeout must be at least 1 second"},
		{name: "negative cache", mutate: func(c *Config) { c.CacheSize = -1 }, wantErr: "CacheSize cannot be negative"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: "LogLevel must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	defer cleanupEnv()
	assert.Panics(t, func() { MustLoad() })
}

func cleanupEnv() {
	os.Unsetenv("SERVER_ADDR")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("EXPLORER_BASE_URL")
	os.Unsetenv("EXPLORER_COOKIE")
	os.Unsetenv("HTTP_TIMEOUT")
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("NATS_URL")
	os.Unsetenv("CACHE_SIZE")
}
