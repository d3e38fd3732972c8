package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oddforge/wristlink/internal/gesture"
	"github.com/oddforge/wristlink/internal/link"
	"github.com/oddforge/wristlink/internal/wire"
)

// Config holds all application configuration.
type Config struct {
	DeviceName string         `yaml:"device_name"`
	Central    CentralConfig  `yaml:"central"`
	Partner    PartnerConfig  `yaml:"partner"`
	Joystick   JoystickConfig `yaml:"joystick"`
	History    HistoryConfig  `yaml:"history"`
	Monitor    MonitorConfig  `yaml:"monitor"`
	LogLevel   string         `yaml:"log_level"`
}

// CentralConfig holds main-device link settings.
type CentralConfig struct {
	ScanTimeoutMs    int `yaml:"scan_timeout_ms"`
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	RescanDelayMs    int `yaml:"rescan_delay_ms"`
}

// PartnerConfig holds partner-device settings.
type PartnerConfig struct {
	SerialPort string `yaml:"serial_port"` // joystick board, e.g. /dev/ttyACM0
	BaudRate   int    `yaml:"baud_rate"`
}

// JoystickConfig holds gesture classifier calibration.
type JoystickConfig struct {
	Center         int  `yaml:"center"`
	Deadzone       int  `yaml:"deadzone"`
	InvertX        bool `yaml:"invert_x"`
	InvertY        bool `yaml:"invert_y"`
	LongPressMs    int  `yaml:"long_press_ms"`
	DoublePressMs  int  `yaml:"double_press_ms"`
	AxisHysteresis int  `yaml:"axis_hysteresis"`
	KeepAliveMs    int  `yaml:"keep_alive_ms"`
}

// HistoryConfig holds message history settings.
type HistoryConfig struct {
	Path string `yaml:"path"` // sqlite database file, empty disables history
}

// MonitorConfig holds the debug monitor settings.
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // host:port
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wristlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	gc := gesture.DefaultConfig()
	return &Config{
		DeviceName: wire.DeviceName,
		Central: CentralConfig{
			ScanTimeoutMs:    10000,
			ConnectTimeoutMs: 10000,
			RescanDelayMs:    2000,
		},
		Partner: PartnerConfig{
			SerialPort: "/dev/ttyACM0",
			BaudRate:   115200,
		},
		Joystick: JoystickConfig{
			Center:         gc.Center,
			Deadzone:       gc.Deadzone,
			InvertX:        gc.InvertX,
			InvertY:        gc.InvertY,
			LongPressMs:    int(gc.LongPress / time.Millisecond),
			DoublePressMs:  int(gc.DoublePressWindow / time.Millisecond),
			AxisHysteresis: gc.AxisHysteresis,
			KeepAliveMs:    int(gc.KeepAlive / time.Millisecond),
		},
		History: HistoryConfig{
			Path: expandTilde("~/.local/share/wristlink/history.db"),
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8765",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in history.path is expanded to the user's
// home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.History.Path = expandTilde(cfg.History.Path)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}
	if len(c.DeviceName) > wire.MaxNameLen {
		return fmt.Errorf("device_name must be at most %d bytes, got %d", wire.MaxNameLen, len(c.DeviceName))
	}

	if c.Central.ScanTimeoutMs <= 0 {
		return fmt.Errorf("central.scan_timeout_ms must be > 0")
	}
	if c.Central.ConnectTimeoutMs <= 0 {
		return fmt.Errorf("central.connect_timeout_ms must be > 0")
	}
	if c.Central.RescanDelayMs <= 0 {
		return fmt.Errorf("central.rescan_delay_ms must be > 0")
	}

	if c.Partner.BaudRate <= 0 {
		return fmt.Errorf("partner.baud_rate must be > 0")
	}

	if c.Joystick.Center <= 0 {
		return fmt.Errorf("joystick.center must be > 0")
	}
	if c.Joystick.Deadzone < 0 || c.Joystick.Deadzone >= c.Joystick.Center {
		return fmt.Errorf("joystick.deadzone must be in [0, center), got %d", c.Joystick.Deadzone)
	}
	if c.Joystick.LongPressMs <= 0 {
		return fmt.Errorf("joystick.long_press_ms must be > 0")
	}
	if c.Joystick.DoublePressMs <= 0 {
		return fmt.Errorf("joystick.double_press_ms must be > 0")
	}

	if c.Monitor.Enabled && c.Monitor.Listen == "" {
		return fmt.Errorf("monitor.listen must be set when monitor.enabled is true")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// LinkOptions converts the central section to link Manager options.
func (c *Config) LinkOptions() link.Options {
	return link.Options{
		DeviceName:     c.DeviceName,
		ScanTimeout:    time.Duration(c.Central.ScanTimeoutMs) * time.Millisecond,
		ConnectTimeout: time.Duration(c.Central.ConnectTimeoutMs) * time.Millisecond,
		RescanDelay:    time.Duration(c.Central.RescanDelayMs) * time.Millisecond,
	}
}

// GestureConfig converts the joystick section to classifier calibration.
func (c *Config) GestureConfig() gesture.Config {
	return gesture.Config{
		Center:            c.Joystick.Center,
		Deadzone:          c.Joystick.Deadzone,
		InvertX:           c.Joystick.InvertX,
		InvertY:           c.Joystick.InvertY,
		LongPress:         time.Duration(c.Joystick.LongPressMs) * time.Millisecond,
		DoublePressWindow: time.Duration(c.Joystick.DoublePressMs) * time.Millisecond,
		AxisHysteresis:    c.Joystick.AxisHysteresis,
		KeepAlive:         time.Duration(c.Joystick.KeepAliveMs) * time.Millisecond,
	}
}

// WriteDefault writes the default config to the default path if no config
// file exists there yet. It returns the written path, or "" if a file
// already existed.
func WriteDefault() (string, error) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", fmt.Errorf("cannot determine config directory")
	}
	path := filepath.Join(dir, "config.yaml")

	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	content := "# wristlink configuration\n" + string(data)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config log level string to a slog level.
// Unknown values fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
