package audio

import "time"

// Frame represents a single fixed-size block of audio samples flowing through
// the capture and playback pipelines. Frames are the atomic unit of audio
// transport: read from the input device, measured by the amplitude estimator,
// gated by VAD, encoded by the recorder, and written to the output device.
type Frame struct {
	// Data is little-endian int16 PCM. Sample rate and channel count are
	// determined by the device configuration.
	Data []byte

	// SampleRate in Hz (e.g., 48000).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo playback sources.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns the wall-clock length of the frame's audio.
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Samples returns the number of samples per channel contained in the frame.
func (f Frame) Samples() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}
