package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name:    "default config",
			envVars: map[string]string{},
			wantErr: false,
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"SERVICE_NAME":    "test-worker",
				"WORKER_NAME":     "bench-1",
				"DEVICE_PORT":     "/dev/ttyUSB0",
				"DEVICE_BAUD_RATE": "57600",
				"JOB_INTERVAL":    "30s",
			},
			wantErr: false,
		},
		{
			name: "invalid baud rate",
			envVars: map[string]string{
				"DEVICE_BAUD_RATE": "-1",
			},
			wantErr: true,
		},
		{
			name: "invalid job interval",
			envVars: map[string]string{
				"JOB_INTERVAL": "-5s",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				if err := os.Setenv(key, value); err != nil {
					t.Fatalf("failed to set environment variable %s: %v", key, err)
				}
			}
			defer func() {
				for key := range tt.envVars {
					if err := os.Unsetenv(key); err != nil {
						t.Logf("failed to unset environment variable %s: %v", key, err)
					}
				}
			}()

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if cfg.WorkerName == "" {
					t.Error("WorkerName should not be empty")
				}
				if cfg.JobInterval <= 0 {
					t.Error("JobInterval should be positive")
				}
			}
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	envVars := map[string]string{
		"DEVICE_PORT":  "/dev/ttyACM3",
		"JOB_INTERVAL": "45s",
	}
	for key, value := range envVars {
		if err := os.Setenv(key, value); err != nil {
			t.Fatalf("failed to set %s: %v", key, err)
		}
	}
	defer func() {
		for key := range envVars {
			_ = os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DevicePort != "/dev/ttyACM3" {
		t.Errorf("DevicePort = %q, want /dev/ttyACM3", cfg.DevicePort)
	}
	if cfg.JobInterval != 45*time.Second {
		t.Errorf("JobInterval = %v, want 45s", cfg.JobInterval)
	}
}
