package web

import (
	"time"

	"github.com/property-etl/internal/config"
)

// Config represents the status server configuration
type Config struct {
	Addr            string
	APIKey          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// StreamInterval is the delay between progress stream events.
	StreamInterval time.Duration
}

// DefaultConfig returns a default configuration. WriteTimeout is zero so
// the progress stream can stay open for the length of a load.
func DefaultConfig() *Config {
	return &Config{
		Addr:            "127.0.0.1:8080",
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		StreamInterval:  time.Second,
	}
}

// ConfigFrom builds the server configuration from the run configuration.
func ConfigFrom(status config.StatusConfig) *Config {
	cfg := DefaultConfig()
	if status.Addr != "" {
		cfg.Addr = status.Addr
	}
	cfg.APIKey = status.APIKey
	return cfg
}
