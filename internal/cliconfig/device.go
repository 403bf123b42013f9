package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultDeviceIDName is the file under the state dir holding the device id.
const DefaultDeviceIDName = "device_id"

// LoadDeviceID fills cfg.DeviceID from the state directory when it is not
// already set, generating and persisting a new id on first run.
// It expects Validate to have set StateDir.
func LoadDeviceID(cfg *Config) error {
	if cfg.DeviceID != "" {
		return nil
	}
	if cfg.StateDir == "" {
		return fmt.Errorf("device-id is required (or state-dir)")
	}

	path := filepath.Join(cfg.StateDir, DefaultDeviceIDName)
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(b))
		if id == "" {
			return fmt.Errorf("device id file %s is empty", path)
		}
		cfg.DeviceID = id
		return nil
	case !os.IsNotExist(err):
		return fmt.Errorf("read device id: %w", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("write device id: %w", err)
	}
	cfg.DeviceID = id
	return nil
}
