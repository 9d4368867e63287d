package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
hue:
  bridge: "192.168.1.2"
  token: "secret"
rooms:
  - name: office
    sensor: "5"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Path != "./luxd.sqlite" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Calibration.ContributionThreshold != 10.0 {
		t.Errorf("contribution threshold = %v, want 10", cfg.Calibration.ContributionThreshold)
	}
	if cfg.Calibration.PairTolerancePercent != 30.0 {
		t.Errorf("pair tolerance = %v, want 30", cfg.Calibration.PairTolerancePercent)
	}
	if cfg.Calibration.TimingBuffer != 1.25 {
		t.Errorf("timing buffer = %v, want 1.25", cfg.Calibration.TimingBuffer)
	}
	if cfg.Calibration.CommandRetries != 2 {
		t.Errorf("command retries = %v, want 2", cfg.Calibration.CommandRetries)
	}
	if cfg.Calibration.VerifyDelay.Duration() != 2*time.Second {
		t.Errorf("verify delay = %v, want 2s", cfg.Calibration.VerifyDelay.Duration())
	}
	if cfg.RefreshInterval.Duration() != 10*time.Second {
		t.Errorf("refresh interval = %v, want 10s", cfg.RefreshInterval.Duration())
	}
	if cfg.HTTP.Host != "127.0.0.1" || cfg.HTTP.Port != 9190 {
		t.Errorf("http = %s:%d, want 127.0.0.1:9190", cfg.HTTP.Host, cfg.HTTP.Port)
	}
	if cfg.MQTT.Enabled() {
		t.Error("MQTT should be disabled without a broker")
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
hue:
  bridge: "192.168.1.2"
  token: "secret"
  timeout: 10s
mqtt:
  broker: "tcp://localhost:1883"
  topic_prefix: "home/lux"
calibration:
  contribution_threshold: 15
  pair_tolerance_percent: 20
  verify_delay: 3s
refresh_interval: 30s
rooms:
  - name: office
    sensor: light-sensor
    lights: ["1", "2", "3"]
  - name: bedroom
    sensor: "7"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.MQTT.Enabled() {
		t.Error("MQTT should be enabled")
	}
	if cfg.MQTT.TopicPrefix != "home/lux" {
		t.Errorf("topic prefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.Calibration.ContributionThreshold != 15 {
		t.Errorf("threshold = %v, want 15", cfg.Calibration.ContributionThreshold)
	}
	if cfg.Calibration.VerifyDelay.Duration() != 3*time.Second {
		t.Errorf("verify delay = %v, want 3s", cfg.Calibration.VerifyDelay.Duration())
	}
	if cfg.RefreshInterval.Duration() != 30*time.Second {
		t.Errorf("refresh interval = %v, want 30s", cfg.RefreshInterval.Duration())
	}
	if len(cfg.Rooms) != 2 {
		t.Fatalf("rooms = %d, want 2", len(cfg.Rooms))
	}
	if len(cfg.Rooms[0].Lights) != 3 {
		t.Errorf("office lights = %v", cfg.Rooms[0].Lights)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "room without name",
			content: `
rooms:
  - sensor: "5"
`,
		},
		{
			name: "room without sensor",
			content: `
rooms:
  - name: office
`,
		},
		{
			name: "duplicate room names",
			content: `
rooms:
  - name: office
    sensor: "5"
  - name: office
    sensor: "6"
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load should reject invalid configuration")
			}
		})
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("LUXD_TEST_TOKEN", "from-env")

	path := writeConfig(t, `
hue:
  bridge: "192.168.1.2"
  token: "${LUXD_TEST_TOKEN}"
mqtt:
  broker: "${LUXD_TEST_BROKER:tcp://fallback:1883}"
rooms:
  - name: office
    sensor: "5"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hue.Token != "from-env" {
		t.Errorf("token = %q, want env expansion", cfg.Hue.Token)
	}
	if cfg.MQTT.Broker != "tcp://fallback:1883" {
		t.Errorf("broker = %q, want default fallback", cfg.MQTT.Broker)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	path := writeConfig(t, `
shutdown_timeout: 1m30s
rooms:
  - name: office
    sensor: "5"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ShutdownTimeout.Duration() != 90*time.Second {
		t.Errorf("shutdown timeout = %v, want 1m30s", cfg.ShutdownTimeout.Duration())
	}
}
