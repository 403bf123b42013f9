package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (FIELDSYNC_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("service-url", os.Getenv("FIELDSYNC_SERVICE_URL"), &cfg.ServiceURL)
	s.setString("auth-key", os.Getenv("FIELDSYNC_AUTH_KEY"), &cfg.AuthKey)
	s.setString("device-id", os.Getenv("FIELDSYNC_DEVICE_ID"), &cfg.DeviceID)
	s.setString("state-dir", os.Getenv("FIELDSYNC_STATE_DIR"), &cfg.StateDir)
	s.setString("store", os.Getenv("FIELDSYNC_STORE"), &cfg.Store)
	s.setString("api-addr", os.Getenv("FIELDSYNC_API_ADDR"), &cfg.APIAddr)
	s.setString("log-level", os.Getenv("FIELDSYNC_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-file", os.Getenv("FIELDSYNC_LOG_FILE"), &cfg.LogFile)

	if err := s.setBoolFromString("offline", os.Getenv("FIELDSYNC_MANUAL_OFFLINE"), &cfg.ManualOffline); err != nil {
		return err
	}
	if err := s.setBoolFromString("no-link-watch", os.Getenv("FIELDSYNC_DISABLE_LINK_WATCH"), &cfg.DisableLinkWatch); err != nil {
		return err
	}

	if err := s.setDuration("quality-interval", os.Getenv("FIELDSYNC_QUALITY_INTERVAL"), &cfg.QualityInterval); err != nil {
		return err
	}
	if err := s.setDuration("link-interval", os.Getenv("FIELDSYNC_LINK_INTERVAL"), &cfg.LinkInterval); err != nil {
		return err
	}
	if err := s.setDuration("scan-interval", os.Getenv("FIELDSYNC_SCAN_INTERVAL"), &cfg.ScanInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("FIELDSYNC_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}

	return nil
}
