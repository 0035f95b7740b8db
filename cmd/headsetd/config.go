package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the headsetd daemon.
//
// Sources, lowest to highest precedence: DefaultConfig, the config file (YAML or
// TOML by extension), HEADSETD_* environment variables (a .env file is loaded
// first if present), then command-line flags.
type Config struct {
	Input      InputConfig      `yaml:"input" toml:"input" envPrefix:"INPUT_"`
	Fusion     FusionConfig     `yaml:"fusion" toml:"fusion" envPrefix:"FUSION_"`
	Tone       ToneConfig       `yaml:"tone" toml:"tone" envPrefix:"TONE_"`
	Transport  TransportConfig  `yaml:"transport" toml:"transport" envPrefix:"TRANSPORT_"`
	Visibility VisibilityConfig `yaml:"visibility" toml:"visibility" envPrefix:"VISIBILITY_"`
	IPC        IPCConfig        `yaml:"ipc" toml:"ipc" envPrefix:"IPC_"`
	API        APIFileConfig    `yaml:"api" toml:"api" envPrefix:"API_"`
	Worker     WorkerFileConfig `yaml:"worker" toml:"worker" envPrefix:"WORKER_"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging" envPrefix:"LOG_"`
}

type InputConfig struct {
	Enabled bool     `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Devices []string `yaml:"devices" toml:"devices" env:"DEVICES" envSeparator:","` // paths or glob patterns
	Grab    bool     `yaml:"grab" toml:"grab" env:"GRAB"`
}

type FusionConfig struct {
	DebounceMS int `yaml:"debounce_ms" toml:"debounce_ms" env:"DEBOUNCE_MS"`
}

type ToneConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	FrequencyHz float64 `yaml:"frequency_hz" toml:"frequency_hz" env:"FREQUENCY_HZ"`
	Gain        float64 `yaml:"gain" toml:"gain" env:"GAIN"`
	FloorGain   float64 `yaml:"floor_gain" toml:"floor_gain" env:"FLOOR_GAIN"`
	DurationMS  int     `yaml:"duration_ms" toml:"duration_ms" env:"DURATION_MS"`
	ReleaseMS   int     `yaml:"release_ms" toml:"release_ms" env:"RELEASE_MS"`
	SampleRate  int     `yaml:"sample_rate" toml:"sample_rate" env:"SAMPLE_RATE"`
}

type TransportConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	BusName string `yaml:"bus_name" toml:"bus_name" env:"BUS_NAME"` // suffix after org.mpris.MediaPlayer2.
}

type VisibilityConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Session string `yaml:"session" toml:"session" env:"SESSION"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path" toml:"socket_path" env:"SOCKET_PATH"`
}

type APIFileConfig struct {
	Port           int      `yaml:"port" toml:"port" env:"PORT"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type WorkerFileConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Port           int      `yaml:"port" toml:"port" env:"PORT"`
	Origin         string   `yaml:"origin" toml:"origin" env:"ORIGIN"`
	FallbackOrigin string   `yaml:"fallback_origin" toml:"fallback_origin" env:"FALLBACK_ORIGIN"`
	CacheName      string   `yaml:"cache_name" toml:"cache_name" env:"CACHE_NAME"`
	Precache       []string `yaml:"precache" toml:"precache" env:"PRECACHE" envSeparator:","`
	UpdateSchedule string   `yaml:"update_schedule" toml:"update_schedule" env:"UPDATE_SCHEDULE"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"` // "text" or "json"
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	tone := DefaultToneParams()
	return Config{
		Input: InputConfig{
			Enabled: true,
			Devices: []string{"/dev/input/by-id/*-event-kbd"},
		},
		Fusion: FusionConfig{
			DebounceMS: defaultDebounceMS,
		},
		Tone: ToneConfig{
			Enabled:     true,
			FrequencyHz: tone.FrequencyHz,
			Gain:        tone.Gain,
			FloorGain:   tone.FloorGain,
			DurationMS:  defaultToneDurationMS,
			ReleaseMS:   defaultToneReleaseMS,
			SampleRate:  tone.SampleRate,
		},
		Transport: TransportConfig{
			Enabled: true,
			BusName: "headsetd",
		},
		Visibility: VisibilityConfig{
			Enabled: true,
			Session: "auto",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/headsetd.sock",
		},
		API: APIFileConfig{
			Port: 3001,
		},
		Worker: WorkerFileConfig{
			Enabled:        false,
			Port:           3002,
			CacheName:      "headsetd-v1",
			Precache:       []string{"/", "/index.html", "/manifest.webmanifest", "/pwa-192x192.png", "/pwa-512x512.png"},
			UpdateSchedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads a YAML (.yaml/.yml) or TOML (.toml) config file on top of
// the defaults. Unknown fields are rejected in both formats to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	path = ExpandPath(path)
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config toml: %w", err)
		}

	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config yaml: %w", err)
		}
		// Only whitespace/comments are allowed after the document.
		if err := dec.Decode(&struct{}{}); err == nil {
			return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
		}

	default:
		return Config{}, fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}

	return cfg, nil
}

// envPrefix namespaces every environment override.
const envPrefix = "HEADSETD_"

// ApplyEnv loads dotenvPath (if it exists) into the process environment and then
// applies HEADSETD_* variables to cfg. Variables already set in the environment
// win over the .env file.
func ApplyEnv(cfg *Config, dotenvPath string) error {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}
	if err := env.Parse(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// FlagOverrides carries flag values that were explicitly set. A nil pointer means
// "not set"; a non-nil pointer is applied even if it holds a zero value.
type FlagOverrides struct {
	InputDevice *string
	InputGrab   *bool

	DebounceMS *int

	ToneEnabled      *bool
	TransportEnabled *bool
	TransportBusName *string

	VisibilityEnabled *bool

	IPCSocketPath *string
	APIPort       *int

	WorkerEnabled *bool
	WorkerOrigin  *string

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.InputDevice != nil {
		cfg.Input.Devices = []string{*o.InputDevice}
	}
	if o.InputGrab != nil {
		cfg.Input.Grab = *o.InputGrab
	}
	if o.DebounceMS != nil {
		cfg.Fusion.DebounceMS = *o.DebounceMS
	}
	if o.ToneEnabled != nil {
		cfg.Tone.Enabled = *o.ToneEnabled
	}
	if o.TransportEnabled != nil {
		cfg.Transport.Enabled = *o.TransportEnabled
	}
	if o.TransportBusName != nil {
		cfg.Transport.BusName = *o.TransportBusName
	}
	if o.VisibilityEnabled != nil {
		cfg.Visibility.Enabled = *o.VisibilityEnabled
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.APIPort != nil {
		cfg.API.Port = *o.APIPort
	}
	if o.WorkerEnabled != nil {
		cfg.Worker.Enabled = *o.WorkerEnabled
	}
	if o.WorkerOrigin != nil {
		cfg.Worker.Origin = *o.WorkerOrigin
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file, environment and flags have been applied.
func (c *Config) Validate() error {
	if c.Input.Enabled {
		if len(c.Input.Devices) == 0 {
			return errors.New("input.devices must not be empty when input.enabled is true")
		}
		for i, dev := range c.Input.Devices {
			if strings.TrimSpace(dev) == "" {
				return fmt.Errorf("input.devices[%d] is empty", i)
			}
		}
	}

	if c.Fusion.DebounceMS < 0 {
		return errors.New("fusion.debounce_ms must be >= 0")
	}

	if c.Tone.Enabled {
		if err := c.ToneParams().Validate(); err != nil {
			return fmt.Errorf("tone: %w", err)
		}
	}

	if c.Transport.Enabled && c.Transport.BusName == "" {
		return errors.New("transport.bus_name must not be empty when transport.enabled is true")
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535 (got %d)", c.API.Port)
	}

	if c.Worker.Enabled {
		if c.Worker.Port <= 0 || c.Worker.Port > 65535 {
			return fmt.Errorf("worker.port must be between 1 and 65535 (got %d)", c.Worker.Port)
		}
		if c.Worker.Port == c.API.Port {
			return errors.New("worker.port must differ from api.port")
		}
		if c.Worker.Origin == "" {
			return errors.New("worker.enabled is true but worker.origin is empty")
		}
		if c.Worker.CacheName == "" {
			return errors.New("worker.cache_name must not be empty")
		}
		if c.Worker.UpdateSchedule != "" {
			if err := validateCronSchedule(c.Worker.UpdateSchedule); err != nil {
				return fmt.Errorf("worker.update_schedule: %w", err)
			}
		}
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be %q or %q", "text", "json")
	}

	return nil
}

// FusionPolicy converts the file config into the reducer policy.
func (c *Config) FusionPolicy() FusionPolicy {
	return FusionPolicy{DebounceWindow: time.Duration(c.Fusion.DebounceMS) * time.Millisecond}
}

// ToneParams converts the file config into tone parameters.
func (c *Config) ToneParams() ToneParams {
	return ToneParams{
		FrequencyHz: c.Tone.FrequencyHz,
		Gain:        c.Tone.Gain,
		FloorGain:   c.Tone.FloorGain,
		Duration:    time.Duration(c.Tone.DurationMS) * time.Millisecond,
		Release:     time.Duration(c.Tone.ReleaseMS) * time.Millisecond,
		SampleRate:  c.Tone.SampleRate,
	}
}

// WorkerBases lists the origins the worker installs from, primary first.
func (c *Config) WorkerBases() []string {
	var bases []string
	if c.Worker.Origin != "" {
		bases = append(bases, c.Worker.Origin)
	}
	if c.Worker.FallbackOrigin != "" && c.Worker.FallbackOrigin != c.Worker.Origin {
		bases = append(bases, c.Worker.FallbackOrigin)
	}
	return bases
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
