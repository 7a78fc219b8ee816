package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/sonantic-labs/parley/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  base_url: https://voice.example.com
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.FrameMs != 20 {
		t.Errorf("audio defaults = %d/%d, want 48000/20", cfg.Audio.SampleRate, cfg.Audio.FrameMs)
	}
	if cfg.VAD.ActivationThreshold != 0.02 || cfg.VAD.DeactivationThreshold != 0.01 {
		t.Errorf("vad thresholds = %v/%v, want 0.02/0.01", cfg.VAD.ActivationThreshold, cfg.VAD.DeactivationThreshold)
	}
	if cfg.VAD.ActivationFrames != 3 || cfg.VAD.DeactivationFrames != 3 {
		t.Errorf("vad frames = %d/%d, want 3/3", cfg.VAD.ActivationFrames, cfg.VAD.DeactivationFrames)
	}
	if cfg.Recorder.MinUtterance.Std() != 500*time.Millisecond || cfg.Recorder.MaxUtterance.Std() != 45*time.Second {
		t.Errorf("recorder durations = %v/%v, want 500ms/45s", cfg.Recorder.MinUtterance, cfg.Recorder.MaxUtterance)
	}
	if cfg.Timers.InactivityGrace.Std() != 20*time.Second {
		t.Errorf("timers.inactivity_grace = %v, want 20s", cfg.Timers.InactivityGrace)
	}
	if len(cfg.Playback.Codecs) != 3 || cfg.Playback.Codecs[0] != "ogg-opus" {
		t.Errorf("playback.codecs = %v, want [ogg-opus wav pcm16]", cfg.Playback.Codecs)
	}
	if cfg.Playback.MinStartBytes != 16384 {
		t.Errorf("playback.min_start_bytes = %d, want 16384", cfg.Playback.MinStartBytes)
	}
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
service:
  base_url: http://localhost:7070
  timeout: 10s
  session_create_attempts: 2
  session_create_backoff: 100ms
  cooldown_window: 30s
audio:
  input_device: "USB Mic"
  output_device: "Speakers"
  sample_rate: 16000
  frame_ms: 20
vad:
  activation_threshold: 0.05
  deactivation_threshold: 0.02
  activation_frames: 2
  deactivation_frames: 4
recorder:
  min_utterance: 250ms
  max_utterance: 30s
  min_payload_bytes: 1024
  bitrate: 24000
timers:
  activation_window: 5s
  inactivity_grace: 15s
playback:
  codecs: ["wav", "pcm16"]
  ready_timeout: 2s
  min_start_bytes: 8192
  stall_timeout: 1s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if cfg.Audio.FrameSize() != 320 {
		t.Errorf("FrameSize() = %d, want 320", cfg.Audio.FrameSize())
	}
	if cfg.Service.CooldownWindow.Std() != 30*time.Second {
		t.Errorf("service.cooldown_window = %v, want 30s", cfg.Service.CooldownWindow)
	}
	if cfg.VAD.DeactivationFrames != 4 {
		t.Errorf("vad.deactivation_frames = %d, want 4", cfg.VAD.DeactivationFrames)
	}
}

func TestValidate_BaseURLRequired(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: \":8080\"\n"))
	if err == nil {
		t.Fatal("expected error for missing service.base_url, got nil")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Errorf("error should mention base_url, got: %v", err)
	}
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  base_url: https://voice.example.com
vad:
  activation_threshold: 0.01
  deactivation_threshold: 0.02
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for inverted VAD thresholds, got nil")
	}
	if !strings.Contains(err.Error(), "deactivation_threshold") {
		t.Errorf("error should mention deactivation_threshold, got: %v", err)
	}
}

func TestValidate_UnknownCodec(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  base_url: https://voice.example.com
playback:
  codecs: ["ogg-opus", "mp3"]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown codec, got nil")
	}
	if !strings.Contains(err.Error(), "mp3") {
		t.Errorf("error should mention the unknown codec, got: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
service:
  base_url: https://voice.example.com
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for bad log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  base_url: https://voice.example.com
  retries: 7
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_BadSampleRate(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  base_url: https://voice.example.com
audio:
  sample_rate: 44100
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unsupported sample rate, got nil")
	}
	if !strings.Contains(err.Error(), "sample_rate") {
		t.Errorf("error should mention sample_rate, got: %v", err)
	}
}

func TestValidate_MinAboveMaxUtterance(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  base_url: https://voice.example.com
recorder:
  min_utterance: 50s
  max_utterance: 45s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for min_utterance above max_utterance, got nil")
	}
}
