package cliconfig

import (
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"FIELDSYNC_SERVICE_URL":        "http://example.com",
				"FIELDSYNC_AUTH_KEY":           "secret",
				"FIELDSYNC_DEVICE_ID":          "tablet-7",
				"FIELDSYNC_STATE_DIR":          "/state",
				"FIELDSYNC_STORE":              "file",
				"FIELDSYNC_API_ADDR":           "127.0.0.1:9000",
				"FIELDSYNC_LOG_LEVEL":          "debug",
				"FIELDSYNC_LOG_FILE":           "/var/log/fieldsync.log",
				"FIELDSYNC_MANUAL_OFFLINE":     "true",
				"FIELDSYNC_DISABLE_LINK_WATCH": "1",
				"FIELDSYNC_QUALITY_INTERVAL":   "1m",
				"FIELDSYNC_LINK_INTERVAL":      "5s",
				"FIELDSYNC_SCAN_INTERVAL":      "20s",
				"FIELDSYNC_HTTP_TIMEOUT":       "45s",
			},
			changed: map[string]bool{},
			expected: Config{
				ServiceURL:       "http://example.com",
				AuthKey:          "secret",
				DeviceID:         "tablet-7",
				StateDir:         "/state",
				Store:            "file",
				APIAddr:          "127.0.0.1:9000",
				LogLevel:         "debug",
				LogFile:          "/var/log/fieldsync.log",
				ManualOffline:    true,
				DisableLinkWatch: true,
				QualityInterval:  time.Minute,
				LinkInterval:     5 * time.Second,
				ScanInterval:     20 * time.Second,
				HTTPTimeout:      45 * time.Second,
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"FIELDSYNC_SERVICE_URL": "http://env",
				"FIELDSYNC_DEVICE_ID":   "env-device",
			},
			changed:  map[string]bool{"service-url": true},
			initial:  Config{ServiceURL: "http://flag"},
			expected: Config{ServiceURL: "http://flag", DeviceID: "env-device"},
		},
		{
			name:    "returns error for invalid duration",
			envVars: map[string]string{"FIELDSYNC_SCAN_INTERVAL": "soon"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "returns error for invalid bool",
			envVars: map[string]string{"FIELDSYNC_MANUAL_OFFLINE": "maybe"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:     "handles bool 'false' as false",
			envVars:  map[string]string{"FIELDSYNC_MANUAL_OFFLINE": "false"},
			changed:  map[string]bool{},
			initial:  Config{ManualOffline: true},
			expected: Config{ManualOffline: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyEnvConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnvConfig() unexpected error: %v", err)
			}
			if cfg != tt.expected {
				t.Errorf("ApplyEnvConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}
