// Package config loads and resolves callsync configuration from the
// defaults -> config file -> environment -> CLI flags override chain.
package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", string(text), err)
	}

	d.Duration = parsed

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full configuration file shape.
type Config struct {
	// ServerURL is the CRM server root, e.g. "https://crm.example.com".
	ServerURL string `toml:"server_url"`

	// ClientID is the OAuth2 application id registered on the CRM.
	ClientID string `toml:"client_id"`

	// SelfNumber is the user's own phone number, used for call direction
	// detection. When empty it is seeded from the remote profile on first
	// sync and persisted in the state database.
	SelfNumber string `toml:"self_number"`

	// CallLogPath overrides where the device call-log database lives.
	// Empty selects the platform default.
	CallLogPath string `toml:"call_log_path"`

	// BatchLimit bounds one device read.
	BatchLimit int `toml:"batch_limit"`

	// SyncInterval is the foreground timer cadence.
	SyncInterval Duration `toml:"sync_interval"`

	// BackgroundInterval is the cadence requested from the OS background
	// facility (subject to OS minimums).
	BackgroundInterval Duration `toml:"background_interval"`

	// RequestTimeout applies to every CRM HTTP request, batch submission
	// included. A timed-out submission is treated like any other
	// submission failure: the read cursor does not advance.
	RequestTimeout Duration `toml:"request_timeout"`

	// Realtime enables the websocket sync-trigger listener.
	Realtime bool `toml:"realtime"`

	// WatchCallLog enables the fsnotify trigger on the call-log database.
	WatchCallLog bool `toml:"watch_call_log"`

	LogLevel string `toml:"log_level"`
}

// Defaults.
const (
	defaultClientID           = "callsync-mobile"
	defaultBatchLimit         = 50
	defaultSyncInterval       = 60 * time.Second
	defaultBackgroundInterval = 15 * time.Minute
	defaultRequestTimeout     = 30 * time.Second
	defaultLogLevel           = "info"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		ClientID:           defaultClientID,
		BatchLimit:         defaultBatchLimit,
		SyncInterval:       Duration{defaultSyncInterval},
		BackgroundInterval: Duration{defaultBackgroundInterval},
		RequestTimeout:     Duration{defaultRequestTimeout},
		WatchCallLog:       true,
		LogLevel:           defaultLogLevel,
	}
}
