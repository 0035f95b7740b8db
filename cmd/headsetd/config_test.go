package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.FusionPolicy().DebounceWindow; got != 500*time.Millisecond {
		t.Fatalf("default debounce = %v, want 500ms", got)
	}
	if cfg.Worker.Enabled {
		t.Fatalf("worker must be disabled by default")
	}
}

func TestLoadConfigFile_YAML(t *testing.T) {
	path := writeConfigFile(t, "headsetd.yaml", `
input:
  devices: ["/dev/input/event7"]
  grab: true
fusion:
  debounce_ms: 300
tone:
  enabled: false
api:
  port: 4001
  allowed_origins: ["http://localhost:5173"]
logging:
  level: debug
  format: json
`)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if len(cfg.Input.Devices) != 1 || cfg.Input.Devices[0] != "/dev/input/event7" || !cfg.Input.Grab {
		t.Fatalf("unexpected input config %+v", cfg.Input)
	}
	if cfg.Fusion.DebounceMS != 300 || cfg.Tone.Enabled || cfg.API.Port != 4001 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	// Untouched sections keep their defaults.
	if cfg.IPC.SocketPath != "/tmp/headsetd.sock" || cfg.Transport.BusName != "headsetd" {
		t.Fatalf("defaults lost: ipc=%+v transport=%+v", cfg.IPC, cfg.Transport)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadConfigFile_TOML(t *testing.T) {
	path := writeConfigFile(t, "headsetd.toml", `
[fusion]
debounce_ms = 750

[worker]
enabled = true
origin = "http://127.0.0.1:5173/"
fallback_origin = "http://127.0.0.1:4173/"
update_schedule = "0 * * * *"
`)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Fusion.DebounceMS != 750 {
		t.Fatalf("debounce = %d, want 750", cfg.Fusion.DebounceMS)
	}
	if got := cfg.WorkerBases(); len(got) != 2 || got[1] != "http://127.0.0.1:4173/" {
		t.Fatalf("unexpected worker bases %v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	cases := map[string]string{
		"typo.yaml": "fusion:\n  debounce: 300\n",
		"typo.toml": "[fusion]\ndebounce = 300\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfigFile(writeConfigFile(t, name, content)); err == nil {
				t.Fatalf("expected unknown field error")
			}
		})
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	if _, err := LoadConfigFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := LoadConfigFile(writeConfigFile(t, "cfg.json", "{}")); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
	if _, err := LoadConfigFile(writeConfigFile(t, "two.yaml", "fusion:\n  debounce_ms: 1\n---\nfusion:\n  debounce_ms: 2\n")); err == nil {
		t.Fatalf("expected error for trailing yaml document")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("HEADSETD_FUSION_DEBOUNCE_MS", "250")
	t.Setenv("HEADSETD_INPUT_DEVICES", "/dev/input/event3,/dev/input/event4")
	t.Setenv("HEADSETD_TRANSPORT_ENABLED", "false")

	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Fusion.DebounceMS != 250 {
		t.Fatalf("debounce = %d, want 250", cfg.Fusion.DebounceMS)
	}
	if len(cfg.Input.Devices) != 2 || cfg.Input.Devices[1] != "/dev/input/event4" {
		t.Fatalf("devices = %v", cfg.Input.Devices)
	}
	if cfg.Transport.Enabled {
		t.Fatalf("transport should be disabled by env")
	}
	// Unset variables leave defaults alone.
	if cfg.API.Port != 3001 {
		t.Fatalf("api port = %d, want default 3001", cfg.API.Port)
	}
}

func TestApplyEnv_DotenvFile(t *testing.T) {
	// godotenv writes into the process environment; register cleanup first.
	t.Setenv("HEADSETD_LOG_LEVEL", "")
	os.Unsetenv("HEADSETD_LOG_LEVEL")

	path := writeConfigFile(t, ".env", "HEADSETD_LOG_LEVEL=debug\n")

	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg, path); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q, want debug from .env", cfg.Logging.Level)
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	dev := "/dev/input/event9"
	debounce := 0
	tone := false
	port := 8080

	cfg := DefaultConfig()
	FlagOverrides{
		InputDevice: &dev,
		DebounceMS:  &debounce,
		ToneEnabled: &tone,
		APIPort:     &port,
	}.Apply(&cfg)

	if len(cfg.Input.Devices) != 1 || cfg.Input.Devices[0] != dev {
		t.Fatalf("devices = %v", cfg.Input.Devices)
	}
	if cfg.Fusion.DebounceMS != 0 {
		t.Fatalf("explicit zero debounce must be applied, got %d", cfg.Fusion.DebounceMS)
	}
	if cfg.Tone.Enabled || cfg.API.Port != 8080 {
		t.Fatalf("unexpected overrides result %+v", cfg)
	}
	// Nil fields leave values alone.
	if cfg.IPC.SocketPath != "/tmp/headsetd.sock" {
		t.Fatalf("ipc socket changed: %q", cfg.IPC.SocketPath)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"negative debounce", func(c *Config) { c.Fusion.DebounceMS = -1 }, "debounce_ms"},
		{"no devices", func(c *Config) { c.Input.Devices = nil }, "input.devices"},
		{"blank device", func(c *Config) { c.Input.Devices = []string{" "} }, "input.devices[0]"},
		{"bad tone", func(c *Config) { c.Tone.Gain = 2 }, "tone:"},
		{"empty bus name", func(c *Config) { c.Transport.BusName = "" }, "bus_name"},
		{"empty socket", func(c *Config) { c.IPC.SocketPath = "" }, "socket_path"},
		{"bad api port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"worker without origin", func(c *Config) { c.Worker.Enabled = true }, "worker.origin"},
		{"worker port clash", func(c *Config) {
			c.Worker.Enabled = true
			c.Worker.Origin = "http://x/"
			c.Worker.Port = c.API.Port
		}, "worker.port"},
		{"bad schedule", func(c *Config) {
			c.Worker.Enabled = true
			c.Worker.Origin = "http://x/"
			c.Worker.UpdateSchedule = "sometimes"
		}, "update_schedule"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidate_DisabledSectionsSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.Enabled = false
	cfg.Input.Devices = nil
	cfg.Tone.Enabled = false
	cfg.Tone.Gain = 0
	cfg.Transport.Enabled = false
	cfg.Transport.BusName = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled sections must not be validated: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/headsetd.yaml"); got != filepath.Join(home, "headsetd.yaml") {
		t.Fatalf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/etc/headsetd.yaml"); got != "/etc/headsetd.yaml" {
		t.Fatalf("absolute path changed: %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, in := range []string{"error", "WARN", "warning", "info", "debug"} {
		if _, err := parseLogLevel(in); err != nil {
			t.Fatalf("%q: %v", in, err)
		}
	}
	if _, err := parseLogLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
