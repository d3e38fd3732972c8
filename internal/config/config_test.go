package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oddforge/wristlink/internal/wire"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DeviceName != wire.DeviceName {
		t.Errorf("DeviceName = %q, want %q", cfg.DeviceName, wire.DeviceName)
	}
	if cfg.Central.ScanTimeoutMs != 10000 {
		t.Errorf("Central.ScanTimeoutMs = %d, want 10000", cfg.Central.ScanTimeoutMs)
	}
	if cfg.Partner.BaudRate != 115200 {
		t.Errorf("Partner.BaudRate = %d, want 115200", cfg.Partner.BaudRate)
	}
	if cfg.Joystick.Center != 2048 {
		t.Errorf("Joystick.Center = %d, want 2048", cfg.Joystick.Center)
	}
	if cfg.Joystick.Deadzone != 164 {
		t.Errorf("Joystick.Deadzone = %d, want 164", cfg.Joystick.Deadzone)
	}
	if cfg.Joystick.LongPressMs != 700 {
		t.Errorf("Joystick.LongPressMs = %d, want 700", cfg.Joystick.LongPressMs)
	}
	if cfg.Monitor.Enabled {
		t.Error("Monitor.Enabled should default to false")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDefaultHistoryPathExpanded(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// Default() is used directly when no config file exists, so the
	// history path must already be usable as a filesystem path.
	path := Default().History.Path
	if strings.HasPrefix(path, "~") {
		t.Errorf("History.Path = %q, want tilde expanded", path)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("History.Path = %q, want absolute", path)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device_name: MyPartner
central:
  scan_timeout_ms: 5000
  connect_timeout_ms: 3000
  rescan_delay_ms: 500
partner:
  serial_port: /dev/ttyUSB3
  baud_rate: 9600
joystick:
  center: 512
  deadzone: 40
  invert_x: true
history:
  path: /tmp/history.db
monitor:
  enabled: true
  listen: "0.0.0.0:9000"
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DeviceName != "MyPartner" {
		t.Errorf("DeviceName = %q, want %q", cfg.DeviceName, "MyPartner")
	}
	if cfg.Central.ScanTimeoutMs != 5000 {
		t.Errorf("Central.ScanTimeoutMs = %d, want 5000", cfg.Central.ScanTimeoutMs)
	}
	if cfg.Partner.SerialPort != "/dev/ttyUSB3" {
		t.Errorf("Partner.SerialPort = %q, want /dev/ttyUSB3", cfg.Partner.SerialPort)
	}
	if cfg.Partner.BaudRate != 9600 {
		t.Errorf("Partner.BaudRate = %d, want 9600", cfg.Partner.BaudRate)
	}
	if cfg.Joystick.Center != 512 || cfg.Joystick.Deadzone != 40 || !cfg.Joystick.InvertX {
		t.Errorf("Joystick = %+v", cfg.Joystick)
	}
	// unset fields keep their defaults
	if cfg.Joystick.LongPressMs != 700 {
		t.Errorf("Joystick.LongPressMs = %d, want default 700", cfg.Joystick.LongPressMs)
	}
	if cfg.History.Path != "/tmp/history.db" {
		t.Errorf("History.Path = %q", cfg.History.Path)
	}
	if !cfg.Monitor.Enabled || cfg.Monitor.Listen != "0.0.0.0:9000" {
		t.Errorf("Monitor = %+v", cfg.Monitor)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
history:
  path: ~/state/history.db
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "state/history.db")
	if cfg.History.Path != expected {
		t.Errorf("History.Path = %q, want %q", cfg.History.Path, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty device name",
			modify:  func(c *Config) { c.DeviceName = "" },
			wantErr: true,
		},
		{
			name:    "over-long device name",
			modify:  func(c *Config) { c.DeviceName = strings.Repeat("x", 40) },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.Central.ScanTimeoutMs = 0 },
			wantErr: true,
		},
		{
			name:    "negative rescan delay",
			modify:  func(c *Config) { c.Central.RescanDelayMs = -1 },
			wantErr: true,
		},
		{
			name:    "zero baud rate",
			modify:  func(c *Config) { c.Partner.BaudRate = 0 },
			wantErr: true,
		},
		{
			name:    "deadzone at center",
			modify:  func(c *Config) { c.Joystick.Deadzone = c.Joystick.Center },
			wantErr: true,
		},
		{
			name:    "zero long press",
			modify:  func(c *Config) { c.Joystick.LongPressMs = 0 },
			wantErr: true,
		},
		{
			name:    "monitor enabled without listen address",
			modify:  func(c *Config) { c.Monitor.Enabled = true; c.Monitor.Listen = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLinkOptions(t *testing.T) {
	cfg := Default()
	cfg.Central.ScanTimeoutMs = 2500
	opts := cfg.LinkOptions()
	if opts.ScanTimeout != 2500*time.Millisecond {
		t.Errorf("ScanTimeout = %v, want 2.5s", opts.ScanTimeout)
	}
	if opts.DeviceName != cfg.DeviceName {
		t.Errorf("DeviceName = %q, want %q", opts.DeviceName, cfg.DeviceName)
	}
}

func TestGestureConfigRoundTrip(t *testing.T) {
	cfg := Default()
	gc := cfg.GestureConfig()
	if gc.Center != 2048 || gc.Deadzone != 164 {
		t.Errorf("calibration = %+v", gc)
	}
	if gc.LongPress != 700*time.Millisecond {
		t.Errorf("LongPress = %v, want 700ms", gc.LongPress)
	}
	if gc.DoublePressWindow != 300*time.Millisecond {
		t.Errorf("DoublePressWindow = %v, want 300ms", gc.DoublePressWindow)
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedDir := filepath.Join(tmpHome, ".config", "wristlink")
	expectedPath := filepath.Join(expectedDir, "config.yaml")

	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	content := string(data)
	if !strings.HasPrefix(content, "# wristlink") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.DeviceName != wire.DeviceName {
		t.Errorf("written config DeviceName = %q, want %q", cfg.DeviceName, wire.DeviceName)
	}
	if cfg.Joystick.Center != 2048 {
		t.Errorf("written config Joystick.Center = %d, want 2048", cfg.Joystick.Center)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "wristlink")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("device_name: Custom\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
