package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions (the file may hold basic auth credentials).

// DeviceConfig describes how to reach the display device on the network.
type DeviceConfig struct {
	// Host is the device address, e.g. "192.168.4.1" (the default AP
	// address) or "tdisplay.local:80".
	Host string `yaml:"host" json:"host"`

	// Secure selects wss/https instead of ws/http.
	Secure bool `yaml:"secure" json:"secure"`

	// CacheDir stores conditional-request state for document pulls so the
	// editor still opens when the device is asleep.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// DisplayConfig is the panel geometry the editor lays cells out against.
type DisplayConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// ReconnectConfig tunes the live-feed reconnection behavior.
type ReconnectConfig struct {
	// MaxAttempts bounds automatic reconnects after a drop. The budget
	// refills when a connection opens.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// DelayMS is the pause before each reconnect attempt, in milliseconds.
	DelayMS int `yaml:"delay_ms" json:"delay_ms"`
}

// SnapshotConfig controls periodic PNG captures of the live frame.
type SnapshotConfig struct {
	// Cron is a five-field schedule (e.g. "*/15 * * * *"). Empty disables
	// snapshots.
	Cron string `yaml:"cron" json:"cron"`

	// Dir is where captures are written.
	Dir string `yaml:"dir" json:"dir"`

	// Keep bounds how many captures stay on disk.
	Keep int `yaml:"keep" json:"keep"`
}

// HistoryConfig controls the SQLite event log.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// PanelConfig wires an optional local ST7789 panel that mirrors the live
// frame. Pin names follow gpioreg, e.g. "GPIO25". Empty pins fall back to
// the driver defaults.
type PanelConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Port         string `yaml:"port" json:"port"`
	DCPin        string `yaml:"dc_pin" json:"dc_pin"`
	ResetPin     string `yaml:"reset_pin" json:"reset_pin"`
	BacklightPin string `yaml:"backlight_pin" json:"backlight_pin"`
	SpeedHz      int    `yaml:"speed_hz" json:"speed_hz"`
}

// SerialConfig wires an optional serial telemetry feed, used when the
// device is tethered over USB instead of reachable over WiFi. Empty Port
// disables the feed.
type SerialConfig struct {
	Port string `yaml:"port" json:"port"`
	Baud int    `yaml:"baud" json:"baud"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Document is the path of the configuration document the editor
	// works on.
	Document string `yaml:"document" json:"document"`

	Device    DeviceConfig    `yaml:"device" json:"device"`
	Display   DisplayConfig   `yaml:"display" json:"display"`
	Reconnect ReconnectConfig `yaml:"reconnect" json:"reconnect"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" json:"snapshot"`
	History   HistoryConfig   `yaml:"history" json:"history"`
	Panel     PanelConfig     `yaml:"panel" json:"panel"`
	Serial    SerialConfig    `yaml:"serial" json:"serial"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Document: "./var/document.json",
		Device: DeviceConfig{
			Host:     "192.168.4.1",
			CacheDir: "./var/device-cache",
		},
		Display: DisplayConfig{
			Width:  240,
			Height: 135,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 5,
			DelayMS:     2000,
		},
		Snapshot: SnapshotConfig{
			Cron: "",
			Dir:  "./var/snapshots",
			Keep: 96,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./var/history.db",
		},
		Panel:     PanelConfig{},
		Serial:    SerialConfig{Baud: 115200},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Document == "" {
		c.Document = "./var/document.json"
	}
	if c.Device.Host == "" {
		c.Device.Host = "192.168.4.1"
	}
	if c.Device.CacheDir == "" {
		c.Device.CacheDir = "./var/device-cache"
	}
	if c.Display.Width <= 0 {
		c.Display.Width = 240
	}
	if c.Display.Height <= 0 {
		c.Display.Height = 135
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = 5
	}
	if c.Reconnect.DelayMS <= 0 {
		c.Reconnect.DelayMS = 2000
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = "./var/snapshots"
	}
	if c.Snapshot.Keep <= 0 {
		c.Snapshot.Keep = 96
	}
	if c.History.Path == "" {
		c.History.Path = "./var/history.db"
	}
	if c.Serial.Baud <= 0 {
		c.Serial.Baud = 115200
	}
	// Panel pins stay empty here; the driver applies its own defaults.
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".tdeditor-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function:
//
//	cfg, _ := config.Load(path)
//	// ... mutate cfg ...
//	if err := cfg.Save(path); err != nil { ... }
func (c *Config) Save(path string) error {
	return Save(path, c)
}
