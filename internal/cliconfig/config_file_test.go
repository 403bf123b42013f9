package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				ServiceURL:       "http://example.com",
				AuthKey:          "secret",
				DeviceID:         "tablet-1",
				StateDir:         "/state",
				Store:            "file",
				APIAddr:          "127.0.0.1:9999",
				LogLevel:         "warn",
				LogFile:          "/tmp/fs.log",
				ManualOffline:    &trueVal,
				DisableLinkWatch: &falseVal,
				QualityInterval:  "2m",
				LinkInterval:     "3s",
				ScanInterval:     "30s",
				HTTPTimeout:      "10s",
			},
			changed: map[string]bool{},
			initial: Config{DisableLinkWatch: true},
			expected: Config{
				ServiceURL:       "http://example.com",
				AuthKey:          "secret",
				DeviceID:         "tablet-1",
				StateDir:         "/state",
				Store:            "file",
				APIAddr:          "127.0.0.1:9999",
				LogLevel:         "warn",
				LogFile:          "/tmp/fs.log",
				ManualOffline:    true,
				DisableLinkWatch: false,
				QualityInterval:  2 * time.Minute,
				LinkInterval:     3 * time.Second,
				ScanInterval:     30 * time.Second,
				HTTPTimeout:      10 * time.Second,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				ServiceURL:    "http://config",
				DeviceID:      "config-device",
				ManualOffline: &trueVal,
			},
			changed: map[string]bool{"service-url": true, "offline": true},
			initial: Config{ServiceURL: "http://flag"},
			expected: Config{
				ServiceURL: "http://flag", // unchanged because flag was set
				DeviceID:   "config-device",
			},
		},
		{
			name:       "empty values keep defaults",
			fileConfig: FileConfig{},
			changed:    map[string]bool{},
			initial:    DefaultConfig(),
			expected:   DefaultConfig(),
		},
		{
			name:       "returns error for invalid duration",
			fileConfig: FileConfig{QualityInterval: "often"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyFileConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyFileConfig() unexpected error: %v", err)
			}
			if cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.toml")

	tomlContent := `
service_url = "https://sync.example.com"
device_id = "tablet-9"
store = "file"
manual_offline = true
quality_interval = "45s"
log_level = "debug"
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.ServiceURL != "https://sync.example.com" {
		t.Errorf("ServiceURL = %v, want https://sync.example.com", fc.ServiceURL)
	}
	if fc.DeviceID != "tablet-9" {
		t.Errorf("DeviceID = %v, want tablet-9", fc.DeviceID)
	}
	if fc.Store != "file" {
		t.Errorf("Store = %v, want file", fc.Store)
	}
	if fc.QualityInterval != "45s" {
		t.Errorf("QualityInterval = %v, want 45s", fc.QualityInterval)
	}
	if fc.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug", fc.LogLevel)
	}
	if fc.ManualOffline == nil || !*fc.ManualOffline {
		t.Errorf("ManualOffline = %v, want true", fc.ManualOffline)
	}
	if fc.DisableLinkWatch != nil {
		t.Errorf("DisableLinkWatch = %v, want nil", fc.DisableLinkWatch)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
service_url = "http://x"
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".fieldsync") {
		t.Errorf("DefaultConfigPath() = %v, should contain .fieldsync", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")
	if err := os.WriteFile(existingFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false for existing file")
	}
	if FileExists(filepath.Join(tmpDir, "missing.txt")) {
		t.Error("FileExists() = true for missing file")
	}
}
