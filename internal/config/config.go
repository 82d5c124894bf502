// Package config provides configuration loading for choresyncd.
package config

import (
	"fmt"
	"time"
)

// Secret is a string that never prints its value. Used for tokens and
// client secrets so they cannot leak through logs or %v formatting.
type Secret string

// String implements fmt.Stringer with a redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

// MarshalJSON redacts the value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Value returns the underlying secret.
func (s Secret) Value() string {
	return string(s)
}

// Config is the complete daemon configuration.
type Config struct {
	Family  FamilyConfig  `koanf:"family"`
	Direct  DirectConfig  `koanf:"direct"`
	Gateway GatewayConfig `koanf:"gateway"`
	Sync    SyncConfig    `koanf:"sync"`
	Cache   CacheConfig   `koanf:"cache"`
	Server  ServerConfig  `koanf:"server"`
	Events  EventsConfig  `koanf:"events"`
	Logging LoggingConfig `koanf:"logging"`
}

// FamilyConfig identifies the family whose documents this daemon
// synchronizes.
type FamilyConfig struct {
	ID string `koanf:"id"`
}

// DirectConfig configures the direct (first-party credential)
// transport. Leave BaseURL empty to run gateway-only.
type DirectConfig struct {
	BaseURL      string `koanf:"base_url"`
	TokenURL     string `koanf:"token_url"`
	ClientID     string `koanf:"client_id"`
	ClientSecret Secret `koanf:"client_secret"`
	RefreshToken Secret `koanf:"refresh_token"`
}

// Enabled reports whether a direct transport is configured.
func (c DirectConfig) Enabled() bool {
	return c.BaseURL != ""
}

// GatewayConfig configures the fallback gateway transport.
type GatewayConfig struct {
	Endpoint string `koanf:"endpoint"`
}

// SyncConfig tunes the reconciliation loop.
type SyncConfig struct {
	// Interval between periodic reconciliation passes.
	Interval time.Duration `koanf:"interval"`
	// Timeout bounds one full pass.
	Timeout time.Duration `koanf:"timeout"`
}

// CacheConfig locates the local SQLite cache.
type CacheConfig struct {
	Path string `koanf:"path"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// EventsConfig configures the optional NATS event publisher. Empty URL
// disables publishing.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Family.ID == "" {
		return fmt.Errorf("family.id is required")
	}
	if c.Gateway.Endpoint == "" {
		return fmt.Errorf("gateway.endpoint is required")
	}
	if c.Direct.Enabled() {
		if c.Direct.TokenURL == "" {
			return fmt.Errorf("direct.token_url is required when direct.base_url is set")
		}
		if c.Direct.RefreshToken == "" {
			return fmt.Errorf("direct.refresh_token is required when direct.base_url is set")
		}
	}
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be at least 1m, got %s", c.Sync.Interval)
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
