package app

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"courier/internal/connection"
	"courier/internal/store"
)

// Environment variables that override the config file.
const (
	EnvHome        = "COURIER_HOME"
	EnvRelayURL    = "COURIER_RELAY_URL"
	EnvRealtimeURL = "COURIER_REALTIME_URL"
	EnvLogLevel    = "COURIER_LOG_LEVEL"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home        string `yaml:"home"`         // data directory, e.g. $HOME/.courier
	RelayURL    string `yaml:"relay_url"`    // relay REST base URL, e.g. http://127.0.0.1:8080
	RealtimeURL string `yaml:"realtime_url"` // WebSocket endpoint; derived from RelayURL when empty
	PollURL     string `yaml:"poll_url"`     // long-polling base URL; defaults to RelayURL

	Connection ConnectionConfig `yaml:"connection"`
	Sync       SyncConfig       `yaml:"sync"`
	Log        LogConfig        `yaml:"log"`

	HTTP  *http.Client        `yaml:"-"` // optional; defaults to http.DefaultClient
	Vault []store.VaultOption `yaml:"-"` // optional; tunes the vault KDF
}

// ConnectionConfig tunes the reconnect policy.
type ConnectionConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	AuthTimeout    time.Duration `yaml:"auth_timeout"`
}

// SyncConfig tunes background catch-up.
type SyncConfig struct {
	Interval      time.Duration `yaml:"interval"`
	JitterPercent int           `yaml:"jitter_percent"`
	// Lookback bounds the first fetch of a room that has no cursor yet.
	// Zero fetches the whole history.
	Lookback time.Duration `yaml:"lookback"`
}

// LogConfig selects the log level and format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	home := ".courier"
	if dir, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(dir, ".courier")
	}
	cc := connection.DefaultConfig()
	return Config{
		Home:     home,
		RelayURL: "http://127.0.0.1:8080",
		Connection: ConnectionConfig{
			MaxAttempts:    cc.MaxAttempts,
			InitialBackoff: cc.InitialBackoff,
			MaxBackoff:     cc.MaxBackoff,
			AuthTimeout:    cc.AuthTimeout,
		},
		Sync: SyncConfig{
			Interval:      5 * time.Minute,
			JitterPercent: 10,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultConfigPath is the config file read when none is given.
func DefaultConfigPath(home string) string {
	return filepath.Join(home, "config.yaml")
}

// LoadConfig reads path over the defaults, applies environment overrides
// and fills derived URLs. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if home := os.Getenv(EnvHome); home != "" {
		cfg.Home = home
	}
	if path == "" {
		path = DefaultConfigPath(cfg.Home)
	}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, err
	default:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Resolve(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvHome); v != "" {
		c.Home = v
	}
	if v := os.Getenv(EnvRelayURL); v != "" {
		c.RelayURL = v
	}
	if v := os.Getenv(EnvRealtimeURL); v != "" {
		c.RealtimeURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Resolve validates the config and derives the real-time endpoints from
// the relay URL when they are not set.
func (c *Config) Resolve() error {
	if c.Home == "" {
		return errors.New("config: home is empty")
	}
	base, err := url.Parse(c.RelayURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return fmt.Errorf("config: relay_url %q must be an http(s) URL", c.RelayURL)
	}
	c.RelayURL = strings.TrimRight(c.RelayURL, "/")
	if c.PollURL == "" {
		c.PollURL = c.RelayURL
	}
	if c.RealtimeURL == "" {
		ws := *base
		ws.Scheme = "ws"
		if base.Scheme == "https" {
			ws.Scheme = "wss"
		}
		ws.Path = strings.TrimRight(base.Path, "/") + "/rt/ws"
		c.RealtimeURL = ws.String()
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("config: sync.interval must be positive, got %s", c.Sync.Interval)
	}
	return nil
}

// reconnectPolicy returns the reconnect policy for the connection manager.
func (c Config) reconnectPolicy() connection.Config {
	return connection.Config{
		MaxAttempts:    c.Connection.MaxAttempts,
		InitialBackoff: c.Connection.InitialBackoff,
		MaxBackoff:     c.Connection.MaxBackoff,
		AuthTimeout:    c.Connection.AuthTimeout,
	}
}
