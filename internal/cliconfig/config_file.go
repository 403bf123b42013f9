package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ServiceURL       string `toml:"service_url"`
	AuthKey          string `toml:"auth_key"`
	DeviceID         string `toml:"device_id"`
	StateDir         string `toml:"state_dir"`
	Store            string `toml:"store"`
	APIAddr          string `toml:"api_addr"`
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	ManualOffline    *bool  `toml:"manual_offline"`
	DisableLinkWatch *bool  `toml:"disable_link_watch"`
	QualityInterval  string `toml:"quality_interval"`
	LinkInterval     string `toml:"link_interval"`
	ScanInterval     string `toml:"scan_interval"`
	HTTPTimeout      string `toml:"http_timeout"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.fieldsync/config.toml, or "" if the user home
// directory is not accessible.
func DefaultConfigPath() string {
	if dir := DefaultStateDir(); dir != "" {
		return filepath.Join(dir, "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("device-id", fc.DeviceID, &cfg.DeviceID)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)
	s.setString("store", fc.Store, &cfg.Store)
	s.setString("api-addr", fc.APIAddr, &cfg.APIAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)

	s.setBool("offline", fc.ManualOffline, &cfg.ManualOffline)
	s.setBool("no-link-watch", fc.DisableLinkWatch, &cfg.DisableLinkWatch)

	if err := s.setDuration("quality-interval", fc.QualityInterval, &cfg.QualityInterval); err != nil {
		return err
	}
	if err := s.setDuration("link-interval", fc.LinkInterval, &cfg.LinkInterval); err != nil {
		return err
	}
	if err := s.setDuration("scan-interval", fc.ScanInterval, &cfg.ScanInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
