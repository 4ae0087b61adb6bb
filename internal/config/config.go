// Package config loads popctl settings from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/groot1121/secure-token-gateway/pkg/credential"
)

// AppName names the config and state directories.
const AppName = "popctl"

// Environment variables that override the file.
const (
	EnvGatewayURL = "POP_GATEWAY_URL"
	EnvUserID     = "POP_USER_ID"
	EnvDeviceID   = "POP_DEVICE_ID"
	EnvStateDir   = "POP_STATE_DIR"
	EnvStore      = "POP_STORE"
	EnvLogLevel   = "POP_LOG_LEVEL"
	EnvThreshold  = "POP_ROTATION_THRESHOLD"

	// EnvStateKey holds the secret that seals the private key at rest.
	// It is read from the environment only and never written to the file.
	EnvStateKey = "POP_STATE_KEY"
)

// Config holds agent configuration.
type Config struct {
	// GatewayURL is the base URL of the token gateway.
	GatewayURL string `yaml:"gateway_url"`

	// UserID and DeviceID form the device identity. DeviceID is generated
	// once by 'popctl init' and must stay stable afterwards.
	UserID   string `yaml:"user_id"`
	DeviceID string `yaml:"device_id"`

	// StateDir holds the key, identity and token records.
	StateDir string `yaml:"state_dir"`

	// Store is the state backend: "file" or "sqlite".
	Store string `yaml:"store"`

	// RotationThreshold is the fraction of token lifetime after which the
	// scheduler rotates.
	RotationThreshold float64 `yaml:"rotation_threshold"`

	// PollInterval is how often the scheduler inspects the token.
	PollInterval time.Duration `yaml:"poll_interval"`

	// HTTPTimeout bounds each gateway request.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// ProtectedResource is the default path for 'popctl access'.
	ProtectedResource string `yaml:"protected_resource"`

	Log LogConfig `yaml:"log"`

	// StateKey seals the private key record when non-empty.
	StateKey string `yaml:"-"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns configuration with defaults.
func DefaultConfig() *Config {
	return &Config{
		GatewayURL:        "http://127.0.0.1:8000",
		StateDir:          DefaultStateDir(),
		Store:             "file",
		RotationThreshold: 0.8,
		PollInterval:      10 * time.Second,
		HTTPTimeout:       15 * time.Second,
		ProtectedResource: "/protected",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func configHome() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config")
	}
	return dir
}

// DefaultPath returns $XDG_CONFIG_HOME/popctl/config.yaml (or the
// platform equivalent).
func DefaultPath() string {
	return filepath.Join(configHome(), AppName, "config.yaml")
}

// DefaultStateDir returns the default state directory.
func DefaultStateDir() string {
	return filepath.Join(configHome(), AppName, "state")
}

// Load reads path over the defaults. A missing file is not an error.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies environment overrides.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvGatewayURL); v != "" {
		c.GatewayURL = v
	}
	if v := os.Getenv(EnvUserID); v != "" {
		c.UserID = v
	}
	if v := os.Getenv(EnvDeviceID); v != "" {
		c.DeviceID = v
	}
	if v := os.Getenv(EnvStateDir); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv(EnvStore); v != "" {
		c.Store = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvStateKey); v != "" {
		c.StateKey = v
	}
	if v := os.Getenv(EnvThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvThreshold, err)
		}
		c.RotationThreshold = f
	}
	return nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	u, err := url.Parse(c.GatewayURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("gateway_url must be an http(s) URL, got %q", c.GatewayURL)
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	switch c.Store {
	case "file", "sqlite":
	default:
		return fmt.Errorf("store must be \"file\" or \"sqlite\", got %q", c.Store)
	}
	if c.RotationThreshold <= 0 || c.RotationThreshold > 1 {
		return fmt.Errorf("rotation_threshold must be in (0, 1], got %v", c.RotationThreshold)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}

// Identity returns the configured device identity, validated.
func (c *Config) Identity() (credential.Identity, error) {
	id := credential.Identity{UserID: c.UserID, DeviceID: c.DeviceID}
	if err := id.Validate(); err != nil {
		return id, err
	}
	return id, nil
}

// EnsureDeviceID assigns a random device id if none is set. It reports
// whether one was generated. An existing id is never replaced.
func (c *Config) EnsureDeviceID() bool {
	if c.DeviceID != "" {
		return false
	}
	c.DeviceID = uuid.NewString()
	return true
}

// Save writes the configuration to path with owner-only permissions.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
