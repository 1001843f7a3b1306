package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/logging"
)

// Config holds runtime settings shared by the interactive client and the
// background agent.
//
// Units: OnlineCheckInterval and PingTimeout are time.Duration values.
type Config struct {
	ServerEndpointAddr  string
	OnlineCheckInterval time.Duration
	PingTimeout         time.Duration

	DatabasePath string
	// SpoolDir is where deferred sync tasks are queued for the agent.
	// Empty disables background sync.
	SpoolDir string

	APIToken string

	LogLevel  string
	LogFormat string
	LogFile   string
}

// LoadDefaults populates c with sensible defaults. Local files live in the
// user's config directory, or the working directory if there is none.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.PingTimeout = 3 * time.Second

	dir := "."
	if base, err := os.UserConfigDir(); err == nil {
		dir = filepath.Join(base, "churchkeeper")
	}
	c.DatabasePath = filepath.Join(dir, "churchkeeper.db")
	c.SpoolDir = filepath.Join(dir, "spool")

	c.LogLevel = "info"
	c.LogFormat = "text"
}

// Logging returns the logger options described by c.
func (c *Config) Logging() logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat, File: c.LogFile}
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the merged settings.
func (c *Config) Validate() error {
	var errs []error
	if c.OnlineCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("online check interval must be positive, got %s", c.OnlineCheckInterval))
	}
	if c.PingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ping timeout must be positive, got %s", c.PingTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
