// Package audio defines the interfaces and types for audio device access
// within parley.
//
// The two primary abstractions are:
//
//   - [Input] — an exclusive handle on a capture device that delivers
//     fixed-size PCM frames, one per analysis tick.
//   - [Output] — an exclusive handle on a playback device that accepts
//     PCM frames for rendering.
//
// Implementations are provided by device-specific adapter packages (e.g.,
// audio/portaudio). The interfaces are intentionally narrow so the session
// controller remains decoupled from device details.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement [Input] and [Output].
package audio

import (
	"context"
	"errors"
)

// Acquisition error classification. Device adapters wrap their native errors
// with one of these sentinels so callers can distinguish a missing device
// from a busy or permission-denied one.
var (
	// ErrNoDevice indicates no matching capture or playback device exists.
	ErrNoDevice = errors.New("audio: no such device")

	// ErrDeviceBusy indicates the device exists but is exclusively held by
	// another process or handle.
	ErrDeviceBusy = errors.New("audio: device busy")

	// ErrPermission indicates the platform denied access to the device.
	ErrPermission = errors.New("audio: permission denied")
)

// Input is an exclusive handle on an audio capture device.
//
// The handle is acquired by the adapter's constructor and owned by exactly
// one caller at a time. ReadFrame is designed to be called in a tight loop
// from a single goroutine; it blocks until one full frame has been captured,
// which paces the analysis loop at the device's frame rate.
//
// Close releases the device. After Close, ReadFrame returns an error.
// Calling Close more than once is safe.
type Input interface {
	// Start opens the device stream and begins capturing. The supplied ctx
	// governs the lifetime of the open attempt only.
	Start(ctx context.Context) error

	// ReadFrame blocks until one frame of PCM audio is available and returns
	// a copy of it.
	ReadFrame() (Frame, error)

	// Close stops capture and releases the device.
	Close() error
}

// Output is an exclusive handle on an audio playback device.
//
// WriteFrame blocks until the device has consumed the frame, which paces the
// playback loop in real time. Implementations must be safe to Close from a
// different goroutine than the one calling WriteFrame.
type Output interface {
	// Start opens the device stream for playback.
	Start(ctx context.Context) error

	// WriteFrame renders one frame of PCM audio. Blocks until written.
	WriteFrame(Frame) error

	// Close stops playback and releases the device.
	Close() error
}
