package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sonantic-labs/parley/internal/playback"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset tuning value with its representative
// default. Only service.base_url has no default; it must be configured.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Service.Timeout <= 0 {
		cfg.Service.Timeout = Duration(30 * time.Second)
	}
	if cfg.Service.SessionCreateAttempts <= 0 {
		cfg.Service.SessionCreateAttempts = 4
	}
	if cfg.Service.SessionCreateBackoff <= 0 {
		cfg.Service.SessionCreateBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.Service.CooldownWindow <= 0 {
		cfg.Service.CooldownWindow = Duration(60 * time.Second)
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 48000
	}
	if cfg.Audio.FrameMs <= 0 {
		cfg.Audio.FrameMs = 20
	}

	if cfg.VAD.ActivationThreshold == 0 {
		cfg.VAD.ActivationThreshold = 0.02
	}
	if cfg.VAD.DeactivationThreshold == 0 {
		cfg.VAD.DeactivationThreshold = 0.01
	}
	if cfg.VAD.ActivationFrames <= 0 {
		cfg.VAD.ActivationFrames = 3
	}
	if cfg.VAD.DeactivationFrames <= 0 {
		cfg.VAD.DeactivationFrames = 3
	}

	if cfg.Recorder.MinUtterance <= 0 {
		cfg.Recorder.MinUtterance = Duration(500 * time.Millisecond)
	}
	if cfg.Recorder.MaxUtterance <= 0 {
		cfg.Recorder.MaxUtterance = Duration(45 * time.Second)
	}
	if cfg.Recorder.MinPayloadBytes <= 0 {
		cfg.Recorder.MinPayloadBytes = 2048
	}
	if cfg.Recorder.Bitrate <= 0 {
		cfg.Recorder.Bitrate = 32000
	}

	if cfg.Timers.ActivationWindow <= 0 {
		cfg.Timers.ActivationWindow = Duration(10 * time.Second)
	}
	if cfg.Timers.InactivityGrace <= 0 {
		cfg.Timers.InactivityGrace = Duration(20 * time.Second)
	}

	if len(cfg.Playback.Codecs) == 0 {
		cfg.Playback.Codecs = []string{"ogg-opus", "wav", "pcm16"}
	}
	if cfg.Playback.ReadyTimeout <= 0 {
		cfg.Playback.ReadyTimeout = Duration(5 * time.Second)
	}
	if cfg.Playback.MinStartBytes <= 0 {
		cfg.Playback.MinStartBytes = 16 << 10
	}
	if cfg.Playback.StallTimeout <= 0 {
		cfg.Playback.StallTimeout = Duration(3 * time.Second)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Service.BaseURL == "" {
		errs = append(errs, errors.New("service.base_url is required"))
	} else if u, err := url.Parse(cfg.Service.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("service.base_url %q is not an absolute URL", cfg.Service.BaseURL))
	}

	if cfg.Audio.SampleRate != 8000 && cfg.Audio.SampleRate != 16000 &&
		cfg.Audio.SampleRate != 24000 && cfg.Audio.SampleRate != 48000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: 8000, 16000, 24000, 48000", cfg.Audio.SampleRate))
	}
	switch cfg.Audio.FrameMs {
	case 10, 20, 40, 60:
	default:
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 40, 60", cfg.Audio.FrameMs))
	}

	if t := cfg.VAD.ActivationThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("vad.activation_threshold %.3f is out of range (0, 1]", t))
	}
	if t := cfg.VAD.DeactivationThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("vad.deactivation_threshold %.3f is out of range (0, 1]", t))
	}
	if cfg.VAD.DeactivationThreshold >= cfg.VAD.ActivationThreshold {
		errs = append(errs, fmt.Errorf("vad.deactivation_threshold %.3f must be below vad.activation_threshold %.3f",
			cfg.VAD.DeactivationThreshold, cfg.VAD.ActivationThreshold))
	}

	if cfg.Recorder.MinUtterance >= cfg.Recorder.MaxUtterance {
		errs = append(errs, fmt.Errorf("recorder.min_utterance %v must be below recorder.max_utterance %v",
			cfg.Recorder.MinUtterance, cfg.Recorder.MaxUtterance))
	}

	for i, name := range cfg.Playback.Codecs {
		if _, ok := playback.ParseCodec(name); !ok {
			errs = append(errs, fmt.Errorf("playback.codecs[%d] %q is unknown; valid values: ogg-opus, wav, pcm16", i, name))
		}
	}

	return errors.Join(errs...)
}
