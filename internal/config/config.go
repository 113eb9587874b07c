// Package config loads the recorder configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"agentstudio.dev/deskrec/capture"
	"agentstudio.dev/deskrec/window"
)

var ErrInvalid = errors.New("invalid configuration")

// Frame sources.
const (
	SourceScreen = "screen"
	SourcePortal = "portal"
	SourceRemote = "remote"
)

// Config is the complete recorder configuration.
type Config struct {
	FPS              int    `yaml:"fps"`
	Remote           bool   `yaml:"remote"` // record a remote stream; forces source=remote and window.kind=none
	StartupTimeoutS  int    `yaml:"startup_timeout_s"`
	OutputDir        string `yaml:"output_dir"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"`

	Capture CaptureConfig `yaml:"capture"`
	Window  WindowConfig  `yaml:"window"`
	Video   VideoConfig   `yaml:"video"`
	Preview PreviewConfig `yaml:"preview"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

type CaptureConfig struct {
	Source     string `yaml:"source"` // screen, portal, remote
	Display    string `yaml:"display"`
	OffsetX    int    `yaml:"offset_x"`
	OffsetY    int    `yaml:"offset_y"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	ShowCursor bool   `yaml:"show_cursor"`
	RemoteURL  string `yaml:"remote_url"`

	Policy         string  `yaml:"policy"`      // every_tick, latest
	CommitMode     string  `yaml:"commit_mode"` // since_last, schedule
	CommitRatio    float64 `yaml:"commit_ratio"`
	PollIntervalMs int     `yaml:"poll_interval_ms"`
}

type WindowConfig struct {
	Kind     string `yaml:"kind"` // auto, none, xdotool, applescript, win32
	SettleMs int    `yaml:"settle_ms"`
}

type VideoConfig struct {
	FFmpegPath string   `yaml:"ffmpeg_path"`
	Codecs     []string `yaml:"codecs"`
	Hardware   bool     `yaml:"hardware"`
	CRF        int      `yaml:"crf"`
}

type PreviewConfig struct {
	Addr        string `yaml:"addr"` // empty disables the preview server
	FPS         int    `yaml:"fps"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	ClientQueue int    `yaml:"client_queue"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // host:port, empty disables publication
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		FPS:              10,
		StartupTimeoutS:  8,
		OutputDir:        "recordings",
		ShutdownTimeoutS: 5,
		Capture: CaptureConfig{
			Source:      SourceScreen,
			Policy:      "every_tick",
			CommitMode:  "since_last",
			CommitRatio: 1.0,
		},
		Window: WindowConfig{Kind: string(window.KindAuto), SettleMs: 1000},
		Video:  VideoConfig{FFmpegPath: "ffmpeg", Codecs: []string{"libx264", "mpeg4"}, CRF: 23},
		Preview: PreviewConfig{
			FPS:         5,
			JPEGQuality: 75,
			ClientQueue: 4,
		},
		MQTT: MQTTConfig{ClientID: "deskrec", Topic: "deskrec", QoS: 1},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from DESKREC_* variables.
func ApplyEnv(cfg *Config) {
	cfg.FPS = IntEnvClamped("DESKREC_FPS", cfg.FPS, 1, 120)
	cfg.Remote = BoolEnv("DESKREC_REMOTE", cfg.Remote)
	cfg.Capture.Source = StringEnv("DESKREC_SOURCE", cfg.Capture.Source)
	cfg.Capture.RemoteURL = StringEnv("DESKREC_REMOTE_URL", cfg.Capture.RemoteURL)
	cfg.Capture.Display = StringEnv("DESKREC_DISPLAY", cfg.Capture.Display)
	cfg.Window.Kind = StringEnv("DESKREC_WINDOW", cfg.Window.Kind)
	cfg.Video.FFmpegPath = StringEnv("DESKREC_FFMPEG", cfg.Video.FFmpegPath)
	cfg.Preview.Addr = StringEnv("DESKREC_PREVIEW_ADDR", cfg.Preview.Addr)
	cfg.MQTT.Broker = StringEnv("DESKREC_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.OutputDir = StringEnv("DESKREC_OUTPUT_DIR", cfg.OutputDir)
}

// Validate fills defaults for zero values and rejects inconsistent settings.
func Validate(cfg *Config) error {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.FPS > 120 {
		return fmt.Errorf("%w: fps %d exceeds 120", ErrInvalid, cfg.FPS)
	}
	if cfg.StartupTimeoutS <= 0 {
		cfg.StartupTimeoutS = 8
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	c := &cfg.Capture
	if cfg.Remote {
		c.Source = SourceRemote
		cfg.Window.Kind = string(window.KindNone)
	}
	switch c.Source {
	case "":
		c.Source = SourceScreen
	case SourceScreen, SourcePortal:
	case SourceRemote:
		if c.RemoteURL == "" {
			return fmt.Errorf("%w: capture.remote_url is required for the remote source", ErrInvalid)
		}
		if c.Policy == "" || c.Policy == "every_tick" {
			c.Policy = "latest"
		}
	default:
		return fmt.Errorf("%w: unknown capture.source %q", ErrInvalid, c.Source)
	}
	if c.Width < 0 || c.Height < 0 || c.OffsetX < 0 || c.OffsetY < 0 {
		return fmt.Errorf("%w: capture region must be non-negative", ErrInvalid)
	}
	if (c.Width == 0) != (c.Height == 0) {
		return fmt.Errorf("%w: capture.width and capture.height must be set together", ErrInvalid)
	}
	if c.Policy == "" {
		c.Policy = "every_tick"
	}
	if _, err := c.LoopPolicy(); err != nil {
		return err
	}
	if c.CommitMode == "" {
		c.CommitMode = "since_last"
	}
	if _, err := c.LoopCommitMode(); err != nil {
		return err
	}
	if c.CommitRatio <= 0 {
		c.CommitRatio = 1.0
	}

	if cfg.Window.Kind == "" {
		cfg.Window.Kind = string(window.KindAuto)
	}
	switch window.Kind(cfg.Window.Kind) {
	case window.KindAuto, window.KindNone, window.KindXdotool, window.KindAppleScript, window.KindWin32:
	default:
		return fmt.Errorf("%w: unknown window.kind %q", ErrInvalid, cfg.Window.Kind)
	}

	if cfg.Video.FFmpegPath == "" {
		cfg.Video.FFmpegPath = "ffmpeg"
	}
	if cfg.Preview.FPS <= 0 {
		cfg.Preview.FPS = 5
	}
	if cfg.Preview.JPEGQuality <= 0 || cfg.Preview.JPEGQuality > 100 {
		cfg.Preview.JPEGQuality = 75
	}
	if cfg.Preview.ClientQueue <= 0 {
		cfg.Preview.ClientQueue = 4
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalid)
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "deskrec"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "deskrec"
	}
	return nil
}

// LoopPolicy maps the policy name to a capture policy.
func (c CaptureConfig) LoopPolicy() (capture.Policy, error) {
	switch c.Policy {
	case "every_tick":
		return capture.PolicyEveryTick, nil
	case "latest":
		return capture.PolicyLatest, nil
	default:
		return 0, fmt.Errorf("%w: unknown capture.policy %q", ErrInvalid, c.Policy)
	}
}

// LoopCommitMode maps the commit mode name to a capture commit mode.
func (c CaptureConfig) LoopCommitMode() (capture.CommitMode, error) {
	switch c.CommitMode {
	case "since_last":
		return capture.CommitSinceLast, nil
	case "schedule":
		return capture.CommitOnSchedule, nil
	default:
		return 0, fmt.Errorf("%w: unknown capture.commit_mode %q", ErrInvalid, c.CommitMode)
	}
}

func (c CaptureConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// WindowKind resolves "auto" against the running OS.
func (cfg *Config) WindowKind() window.Kind {
	return window.ResolveKind(window.Kind(cfg.Window.Kind), runtime.GOOS)
}

func (cfg *Config) StartupTimeout() time.Duration {
	return time.Duration(cfg.StartupTimeoutS) * time.Second
}

func (cfg *Config) ShutdownTimeout() time.Duration {
	return time.Duration(cfg.ShutdownTimeoutS) * time.Second
}

// WindowSettle returns the settle delay in window.Options form.
func (cfg *Config) WindowSettle() time.Duration {
	if cfg.Window.SettleMs < 0 {
		return -1
	}
	return time.Duration(cfg.Window.SettleMs) * time.Millisecond
}
