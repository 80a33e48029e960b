// Package config loads the viewersense YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/viewersense/internal/broadcast"
	"github.com/ayusman/viewersense/internal/capture"
	"github.com/ayusman/viewersense/internal/detector"
	"github.com/ayusman/viewersense/internal/emitter"
	"github.com/ayusman/viewersense/internal/hook"
	"github.com/ayusman/viewersense/internal/logging"
	"github.com/ayusman/viewersense/internal/params"
	"github.com/ayusman/viewersense/internal/server"
)

// DataDirName is the directory under the user's home holding the database.
const DataDirName = ".viewersense"

// Config is the complete configuration. Durations are Go duration strings
// such as "2s" or "200ms".
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Camera    capture.Options `yaml:"camera"`
	Detection DetectionConfig `yaml:"detection"`
	Landmarks LandmarksConfig `yaml:"landmarks"`
	Store     StoreConfig     `yaml:"store"`
	MQTT      emitter.Config  `yaml:"mqtt"`
	Log       logging.Config  `yaml:"log"`
	Tray      TrayConfig      `yaml:"tray"`
	Hooks     HooksConfig     `yaml:"hooks"`
}

// ServerConfig contains the listener and websocket settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	WriteTimeout time.Duration `yaml:"write_timeout"` // per-client send bound
	ReadLimit    int64         `yaml:"read_limit"`    // max inbound websocket message
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DetectionConfig holds the initial detection parameters plus loop limits.
type DetectionConfig struct {
	params.Params `yaml:",inline"`

	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

// LandmarksConfig configures the landmark service subprocess.
type LandmarksConfig struct {
	Script        string  `yaml:"script"`
	Python        string  `yaml:"python"`
	MaxHands      int     `yaml:"max_hands"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// Detector converts the section into a detector configuration.
func (l LandmarksConfig) Detector() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.ScriptPath = l.Script
	cfg.Python = l.Python
	if l.MaxHands > 0 {
		cfg.MaxHands = l.MaxHands
	}
	if l.MinConfidence > 0 {
		cfg.MinConfidence = l.MinConfidence
		cfg.MinTrackingConf = l.MinConfidence
	}
	return cfg
}

// StoreConfig locates the settings database. An empty path uses the data directory.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TrayConfig enables the system tray menu.
type TrayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// HooksConfig locates event hooks. An empty Dir uses the hooks directory
// inside the data directory.
type HooksConfig struct {
	Dir           string        `yaml:"dir"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:         server.DefaultHost,
			Port:         server.DefaultPort,
			WriteTimeout: broadcast.DefaultSendTimeout,
			ReadLimit:    server.DefaultReadLimit,
		},
		Camera: capture.DefaultOptions(),
		Detection: DetectionConfig{
			Params:                 params.Default(),
			MaxConsecutiveFailures: capture.DefaultMaxFailures,
		},
		Landmarks: LandmarksConfig{
			MaxHands:      detector.DefaultConfig().MaxHands,
			MinConfidence: detector.DefaultConfig().MinConfidence,
		},
		MQTT: emitter.Config{Topic: emitter.DefaultTopic},
		Log:  logging.Config{Level: "info", Format: "text"},
		Hooks: HooksConfig{
			Timeout:       hook.DefaultTimeout,
			MaxConcurrent: hook.DefaultMaxConcurrent,
		},
	}
}

// Load reads path over the defaults and validates the result. Keys missing
// from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive, got %v", c.Server.WriteTimeout))
	}
	if c.Server.ReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("server.read_limit must be positive, got %d", c.Server.ReadLimit))
	}
	if c.Camera.Device < 0 {
		errs = append(errs, fmt.Errorf("camera.device must not be negative, got %d", c.Camera.Device))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 || c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera width, height and fps must be positive"))
	}
	if err := c.Detection.Params.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detection: %w", err))
	}
	if c.Detection.MaxConsecutiveFailures <= 0 {
		errs = append(errs, fmt.Errorf("detection.max_consecutive_failures must be positive, got %d", c.Detection.MaxConsecutiveFailures))
	}
	if c.Landmarks.MinConfidence < 0 || c.Landmarks.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("landmarks.min_confidence must be in [0, 1], got %v", c.Landmarks.MinConfidence))
	}
	if err := c.MQTT.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Hooks.Timeout <= 0 || c.Hooks.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("hooks timeout and max_concurrent must be positive"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	return errors.Join(errs...)
}

// DataDir returns ~/.viewersense.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DataDirName), nil
}

// StorePath returns the configured database path, defaulting to
// viewersense.db in the data directory, and creates its parent directory.
func (c *Config) StorePath() (string, error) {
	path := c.Store.Path
	if path == "" {
		dir, err := DataDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(dir, "viewersense.db")
	}
	if path == ":memory:" {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return path, nil
}

// HooksDir returns the configured hook directory, defaulting to hooks in the
// data directory.
func (c *Config) HooksDir() (string, error) {
	if c.Hooks.Dir != "" {
		return c.Hooks.Dir, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "hooks"), nil
}
