package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Audio  AudioConfig  `mapstructure:"audio" yaml:"audio"`
	Trial  TrialConfig  `mapstructure:"trial" yaml:"trial"`
	Assets AssetsConfig `mapstructure:"assets" yaml:"assets"`
	Output OutputConfig `mapstructure:"output" yaml:"output"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

type AudioConfig struct {
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Source     string `mapstructure:"source" yaml:"source"` // capture device, empty = system default
	Backend    string `mapstructure:"backend" yaml:"backend"` // "ffmpeg", "auto"
}

// TrialConfig holds the per-trial timing and voice-key parameters.
// Durations of 0 mean "unbounded" / "never" where noted.
type TrialConfig struct {
	RecordingDurationMs int     `mapstructure:"recording_duration_ms" yaml:"recording_duration_ms"` // 0 = manual stop only
	StimulusDurationMs  int     `mapstructure:"stimulus_duration_ms" yaml:"stimulus_duration_ms"`   // 0 = never auto-hide
	AmplitudeThreshold  float64 `mapstructure:"amplitude_threshold" yaml:"amplitude_threshold"`     // normalized RMS, 0.0-1.0
	WatcherTimeoutMs    int     `mapstructure:"watcher_timeout_ms" yaml:"watcher_timeout_ms"`
	PollIntervalMs      int     `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	AlertDelayMs        int     `mapstructure:"alert_delay_ms" yaml:"alert_delay_ms"`
	AllowPlaybackReview bool    `mapstructure:"allow_playback_review" yaml:"allow_playback_review"`
	PersistPayload      bool    `mapstructure:"persist_encoded_payload" yaml:"persist_encoded_payload"`
	DoneButtonEnabled   bool    `mapstructure:"done_button_enabled" yaml:"done_button_enabled"`
}

type AssetsConfig struct {
	AlertSound string `mapstructure:"alert_sound" yaml:"alert_sound"`
	AlertImage string `mapstructure:"alert_image" yaml:"alert_image"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

var defaultConfig = Config{
	Audio: AudioConfig{
		SampleRate: 16000,
		Source:     "",
		Backend:    "auto",
	},
	Trial: TrialConfig{
		RecordingDurationMs: 5000,
		StimulusDurationMs:  0,
		AmplitudeThreshold:  0.1,
		WatcherTimeoutMs:    3000,
		PollIntervalMs:      5,
		AlertDelayMs:        350,
		AllowPlaybackReview: false,
		PersistPayload:      true,
		DoneButtonEnabled:   true,
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "voicetrial"),
	},
	Server: ServerConfig{
		Port: "8080",
	},
}

// Default returns a copy of the built-in defaults, for callers that run
// without a config file (tests, calibrate command).
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Load reads the config file, layering it over the defaults, and validates it.
func Load(configFile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
		// Missing file falls back to defaults entirely.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", configFile, err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	cfg.Assets.AlertSound = expandPath(cfg.Assets.AlertSound)
	cfg.Assets.AlertImage = expandPath(cfg.Assets.AlertImage)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.sample_rate", defaultConfig.Audio.SampleRate)
	v.SetDefault("audio.backend", defaultConfig.Audio.Backend)
	v.SetDefault("trial.recording_duration_ms", defaultConfig.Trial.RecordingDurationMs)
	v.SetDefault("trial.stimulus_duration_ms", defaultConfig.Trial.StimulusDurationMs)
	v.SetDefault("trial.amplitude_threshold", defaultConfig.Trial.AmplitudeThreshold)
	v.SetDefault("trial.watcher_timeout_ms", defaultConfig.Trial.WatcherTimeoutMs)
	v.SetDefault("trial.poll_interval_ms", defaultConfig.Trial.PollIntervalMs)
	v.SetDefault("trial.alert_delay_ms", defaultConfig.Trial.AlertDelayMs)
	v.SetDefault("trial.allow_playback_review", defaultConfig.Trial.AllowPlaybackReview)
	v.SetDefault("trial.persist_encoded_payload", defaultConfig.Trial.PersistPayload)
	v.SetDefault("trial.done_button_enabled", defaultConfig.Trial.DoneButtonEnabled)
	v.SetDefault("output.directory", defaultConfig.Output.Directory)
	v.SetDefault("server.port", defaultConfig.Server.Port)
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Trial.AmplitudeThreshold < 0 || c.Trial.AmplitudeThreshold > 1 {
		return fmt.Errorf("trial.amplitude_threshold must be in [0.0, 1.0], got %g", c.Trial.AmplitudeThreshold)
	}
	if c.Trial.PollIntervalMs < 1 {
		return fmt.Errorf("trial.poll_interval_ms must be at least 1, got %d", c.Trial.PollIntervalMs)
	}
	if c.Trial.WatcherTimeoutMs < 0 {
		return fmt.Errorf("trial.watcher_timeout_ms must not be negative, got %d", c.Trial.WatcherTimeoutMs)
	}
	if c.Trial.AlertDelayMs < 0 {
		return fmt.Errorf("trial.alert_delay_ms must not be negative, got %d", c.Trial.AlertDelayMs)
	}
	if c.Trial.RecordingDurationMs < 0 {
		return fmt.Errorf("trial.recording_duration_ms must not be negative, got %d", c.Trial.RecordingDurationMs)
	}
	if c.Trial.StimulusDurationMs < 0 {
		return fmt.Errorf("trial.stimulus_duration_ms must not be negative, got %d", c.Trial.StimulusDurationMs)
	}
	// Without a done button the duration timer is the only way a trial ends.
	if !c.Trial.DoneButtonEnabled && c.Trial.RecordingDurationMs == 0 {
		return fmt.Errorf("trial.recording_duration_ms is required when trial.done_button_enabled is false, otherwise the trial can never end")
	}
	return nil
}

// Duration accessors converting the millisecond config fields.

func (t TrialConfig) RecordingDuration() time.Duration {
	return time.Duration(t.RecordingDurationMs) * time.Millisecond
}

func (t TrialConfig) StimulusDuration() time.Duration {
	return time.Duration(t.StimulusDurationMs) * time.Millisecond
}

func (t TrialConfig) WatcherTimeout() time.Duration {
	return time.Duration(t.WatcherTimeoutMs) * time.Millisecond
}

func (t TrialConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

func (t TrialConfig) AlertDelay() time.Duration {
	return time.Duration(t.AlertDelayMs) * time.Millisecond
}

func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
