package cliconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/fieldsync/internal/adapters/httpapi"
	"github.com/bft-labs/fieldsync/pkg/fieldsync"
)

// Store backends for critical operations.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
)

// Config holds CLI configuration for the fieldsync daemon.
type Config struct {
	ServiceURL string
	AuthKey    string
	DeviceID   string

	StateDir string
	Store    string

	APIAddr  string
	LogLevel string
	LogFile  string

	ManualOffline    bool
	DisableLinkWatch bool

	QualityInterval time.Duration
	LinkInterval    time.Duration
	ScanInterval    time.Duration
	HTTPTimeout     time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Store:           StoreSQLite,
		APIAddr:         httpapi.DefaultAddr,
		LogLevel:        "info",
		QualityInterval: fieldsync.DefaultQualityInterval,
		LinkInterval:    fieldsync.DefaultLinkCheckInterval,
		ScanInterval:    fieldsync.DefaultScanInterval,
		HTTPTimeout:     fieldsync.DefaultHTTPTimeout,
		AuthKey:         os.Getenv("FIELDSYNC_AUTH_KEY"),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.ServiceURL == "" {
		return fmt.Errorf("service-url is required")
	}
	u, err := url.Parse(c.ServiceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("service-url %q is not an absolute URL", c.ServiceURL)
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")

	if c.StateDir == "" {
		c.StateDir = DefaultStateDir()
		if c.StateDir == "" {
			return fmt.Errorf("state-dir is required")
		}
	}

	switch c.Store {
	case "":
		c.Store = StoreSQLite
	case StoreSQLite, StoreFile:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreSQLite, StoreFile)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.QualityInterval <= 0 {
		return fmt.Errorf("quality interval must be positive")
	}
	if c.LinkInterval <= 0 {
		return fmt.Errorf("link interval must be positive")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}

	return nil
}

// ToEngineConfig converts the CLI configuration into the library configuration.
func (c Config) ToEngineConfig() fieldsync.Config {
	return fieldsync.Config{
		ServiceURL:        c.ServiceURL,
		AuthKey:           c.AuthKey,
		DeviceID:          c.DeviceID,
		StateDir:          c.StateDir,
		HTTPTimeout:       c.HTTPTimeout,
		QualityInterval:   c.QualityInterval,
		LinkCheckInterval: c.LinkInterval,
		DisableLinkWatch:  c.DisableLinkWatch,
		ScanInterval:      c.ScanInterval,
		ManualOffline:     c.ManualOffline,
	}
}

// Redacted returns a copy safe for logging.
func (c Config) Redacted() Config {
	if c.AuthKey != "" {
		c.AuthKey = "*****"
	}
	return c
}

// DefaultStateDir returns ~/.fieldsync, or "" if the home directory is unknown.
func DefaultStateDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".fieldsync")
	}
	return ""
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBoolFromString parses a string to bool and sets the destination.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = b
	return nil
}
