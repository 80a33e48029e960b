package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/viewersense/internal/params"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if got := cfg.Server.Addr(); got != "localhost:12345" {
		t.Errorf("Addr() = %q, want localhost:12345", got)
	}
	if cfg.Detection.Params != params.Default() {
		t.Errorf("detection params = %+v, want defaults", cfg.Detection.Params)
	}
	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 || cfg.Camera.FPS != 30 {
		t.Errorf("camera = %+v, want 640x480@30", cfg.Camera)
	}
	if cfg.MQTT.Enabled() {
		t.Error("mqtt should be disabled by default")
	}
}

func TestParse_Overrides(t *testing.T) {
	data := []byte(`
server:
  host: 0.0.0.0
  port: 9000
camera:
  device: 1
detection:
  shoulder_width_threshold: 0.25
  presence_timeout: 3s
  swipe_cooldown: 750ms
  detection_cadence_hz: 60
  presence_only: true
  max_consecutive_failures: 10
mqtt:
  broker: localhost:1883
  qos: 1
log:
  level: debug
  format: json
tray:
  enabled: true
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:9000" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Server.ReadLimit != Default().Server.ReadLimit {
		t.Errorf("unset read_limit should keep its default, got %d", cfg.Server.ReadLimit)
	}
	if cfg.Camera.Device != 1 || cfg.Camera.Width != 640 {
		t.Errorf("camera = %+v, want device 1 with default size", cfg.Camera)
	}

	d := cfg.Detection
	if d.ShoulderWidthThreshold != 0.25 || d.PresenceTimeout != 3*time.Second || d.SwipeCooldown != 750*time.Millisecond {
		t.Errorf("detection = %+v", d.Params)
	}
	if d.CadenceHz != 60 || !d.PresenceOnly || d.MaxConsecutiveFailures != 10 {
		t.Errorf("detection = %+v", d)
	}
	if d.MinSpeedPxPerS != params.DefaultMinSpeedPxPerS {
		t.Errorf("unset min speed = %v, want default", d.MinSpeedPxPerS)
	}

	if !cfg.MQTT.Enabled() || cfg.MQTT.QoS != 1 || cfg.MQTT.Topic != "viewersense/events" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || !cfg.Tray.Enabled {
		t.Errorf("log = %+v, tray = %+v", cfg.Log, cfg.Tray)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"threshold above one", "detection:\n  shoulder_width_threshold: 1.5\n", "shoulder_width_threshold"},
		{"cadence too high", "detection:\n  detection_cadence_hz: 120\n", "detection_cadence_hz"},
		{"negative timeout", "detection:\n  presence_timeout: -1s\n", "presence_timeout"},
		{"bad qos", "mqtt:\n  qos: 3\n", "qos"},
		{"bad log format", "log:\n  format: xml\n", "log format"},
		{"zero hook timeout", "hooks:\n  timeout: 0s\n", "hooks timeout"},
		{"malformed yaml", "server: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewersense.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8123\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("port = %d, want 8123", cfg.Server.Port)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestLandmarksConfig_Detector(t *testing.T) {
	cfg := LandmarksConfig{Script: "/opt/landmark_service.py", MaxHands: 1, MinConfidence: 0.7}.Detector()

	if cfg.ScriptPath != "/opt/landmark_service.py" || cfg.MaxHands != 1 {
		t.Errorf("Detector() = %+v", cfg)
	}
	if cfg.MinConfidence != 0.7 || cfg.MinTrackingConf != 0.7 {
		t.Errorf("confidence = %v/%v, want 0.7", cfg.MinConfidence, cfg.MinTrackingConf)
	}

	zero := LandmarksConfig{}.Detector()
	if zero.MaxHands != 2 {
		t.Errorf("zero config MaxHands = %d, want default 2", zero.MaxHands)
	}
}

func TestStorePath(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Store.Path = filepath.Join(dir, "nested", "settings.db")

	path, err := cfg.StorePath()
	if err != nil {
		t.Fatalf("StorePath() error = %v", err)
	}
	if path != cfg.Store.Path {
		t.Errorf("StorePath() = %q, want %q", path, cfg.Store.Path)
	}
	if info, err := os.Stat(filepath.Join(dir, "nested")); err != nil || !info.IsDir() {
		t.Error("StorePath() should create the parent directory")
	}

	cfg.Store.Path = ":memory:"
	if path, _ := cfg.StorePath(); path != ":memory:" {
		t.Errorf("StorePath() = %q, want :memory:", path)
	}
}

func TestHooksDir(t *testing.T) {
	cfg := Default()
	cfg.Hooks.Dir = "/opt/hooks"
	if dir, err := cfg.HooksDir(); err != nil || dir != "/opt/hooks" {
		t.Errorf("HooksDir() = %q, %v", dir, err)
	}

	cfg.Hooks.Dir = ""
	dir, err := cfg.HooksDir()
	if err != nil {
		t.Fatalf("HooksDir() error = %v", err)
	}
	if filepath.Base(dir) != "hooks" || filepath.Base(filepath.Dir(dir)) != DataDirName {
		t.Errorf("HooksDir() = %q, want hooks inside the data directory", dir)
	}
}
