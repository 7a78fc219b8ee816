// Package config provides the configuration schema and loader for the
// parley voice session daemon.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "500ms" or "45s" decode
// directly. A value without a unit is rejected.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the duration in time.Duration notation.
func (d Duration) String() string { return time.Duration(d).String() }

// LogLevel controls log verbosity for the parley daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Service  ServiceConfig  `yaml:"service"`
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Recorder RecorderConfig `yaml:"recorder"`
	Timers   TimersConfig   `yaml:"timers"`
	Playback PlaybackConfig `yaml:"playback"`
}

// ServerConfig holds network and logging settings for the control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the control server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ServiceConfig describes the remote voice service.
type ServiceConfig struct {
	// BaseURL is the voice service endpoint
	// (e.g., "https://voice.example.com").
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each transport round trip.
	Timeout Duration `yaml:"timeout"`

	// SessionCreateAttempts bounds the create-session retry loop.
	SessionCreateAttempts int `yaml:"session_create_attempts"`

	// SessionCreateBackoff is the initial create-session retry delay,
	// doubled on each attempt.
	SessionCreateBackoff Duration `yaml:"session_create_backoff"`

	// CooldownWindow is how long utterances are dropped locally after the
	// service signals a rate limit.
	CooldownWindow Duration `yaml:"cooldown_window"`
}

// AudioConfig selects the capture and playback devices and frame format.
type AudioConfig struct {
	// InputDevice selects the microphone by substring match against the
	// platform device name. Empty selects the default input device.
	InputDevice string `yaml:"input_device"`

	// OutputDevice selects the speaker by substring match against the
	// platform device name. Empty selects the default output device.
	OutputDevice string `yaml:"output_device"`

	// SampleRate is the capture and playback rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the analysis frame length in milliseconds.
	FrameMs int `yaml:"frame_ms"`
}

// FrameSize returns the analysis frame length in samples.
func (a AudioConfig) FrameSize() int {
	return a.SampleRate * a.FrameMs / 1000
}

// VADConfig holds the hysteresis thresholds for voice activity detection.
// Thresholds are normalised RMS amplitudes in [0, 1]; these are product
// tuning values, worth re-validating against real microphone noise floors.
type VADConfig struct {
	// ActivationThreshold is the RMS level at or above which a frame counts
	// towards speech onset.
	ActivationThreshold float64 `yaml:"activation_threshold"`

	// DeactivationThreshold is the RMS level at or below which a frame
	// counts towards speech offset. Must be below ActivationThreshold.
	DeactivationThreshold float64 `yaml:"deactivation_threshold"`

	// ActivationFrames is the consecutive-frame dwell required before a
	// speech start is emitted.
	ActivationFrames int `yaml:"activation_frames"`

	// DeactivationFrames is the consecutive-frame dwell required before a
	// speech stop is emitted.
	DeactivationFrames int `yaml:"deactivation_frames"`
}

// RecorderConfig holds the utterance recorder's limits and encoding.
type RecorderConfig struct {
	// MinUtterance is the shortest recording worth sending; anything
	// shorter is discarded.
	MinUtterance Duration `yaml:"min_utterance"`

	// MaxUtterance force-ends a recording that never sees a VAD stop.
	MaxUtterance Duration `yaml:"max_utterance"`

	// MinPayloadBytes discards assembled payloads smaller than this
	// regardless of duration.
	MinPayloadBytes int `yaml:"min_payload_bytes"`

	// Bitrate is the Opus encoder target in bits per second.
	Bitrate int `yaml:"bitrate"`
}

// TimersConfig holds the session auto-mute timers.
type TimersConfig struct {
	// ActivationWindow mutes a session that hears no speech at all after
	// activation, guarding against accidental activations.
	ActivationWindow Duration `yaml:"activation_window"`

	// InactivityGrace mutes the session after this long without speech.
	InactivityGrace Duration `yaml:"inactivity_grace"`
}

// PlaybackConfig holds the reply playback tuning values.
type PlaybackConfig struct {
	// Codecs is the ordered codec preference list. Valid entries:
	// "ogg-opus", "wav", "pcm16".
	Codecs []string `yaml:"codecs"`

	// ReadyTimeout bounds the buffering wait before playback starts
	// degraded or fails.
	ReadyTimeout Duration `yaml:"ready_timeout"`

	// MinStartBytes is the buffer level considered safe to start from.
	MinStartBytes int `yaml:"min_start_bytes"`

	// StallTimeout is how long a dry buffer mid-stream counts as a stall.
	StallTimeout Duration `yaml:"stall_timeout"`
}
