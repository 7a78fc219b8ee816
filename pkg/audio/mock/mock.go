// Package mock provides test doubles for the audio device interfaces.
//
// Use [Input] to script a sequence of frames for the analysis loop and
// [Output] to capture the frames a playback attempt renders.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sonantic-labs/parley/pkg/audio"
)

// ErrExhausted is returned by Input.ReadFrame once all scripted frames have
// been consumed and Block is false.
var ErrExhausted = errors.New("mock: no more frames")

// Input is a scripted implementation of audio.Input.
type Input struct {
	mu sync.Mutex

	// Frames is the sequence returned by successive ReadFrame calls.
	Frames []audio.Frame

	// StartErr, if non-nil, is returned from Start.
	StartErr error

	// ReadDelay, when non-zero, is slept before each ReadFrame return to
	// simulate the real device pacing the loop.
	ReadDelay time.Duration

	// Block, when true, makes ReadFrame block forever after the scripted
	// frames run out instead of returning ErrExhausted. Close unblocks it.
	Block bool

	started bool
	closed  bool
	next    int
	done    chan struct{}
}

// Start records the call and returns StartErr.
func (in *Input) Start(_ context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.StartErr != nil {
		return in.StartErr
	}
	in.started = true
	in.done = make(chan struct{})
	return nil
}

// ReadFrame returns the next scripted frame.
func (in *Input) ReadFrame() (audio.Frame, error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return audio.Frame{}, errors.New("mock: input closed")
	}
	if in.next >= len(in.Frames) {
		block := in.Block
		done := in.done
		in.mu.Unlock()
		if block && done != nil {
			<-done
			return audio.Frame{}, errors.New("mock: input closed")
		}
		return audio.Frame{}, ErrExhausted
	}
	f := in.Frames[in.next]
	in.next++
	delay := in.ReadDelay
	in.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return f, nil
}

// Close marks the input closed and unblocks any pending ReadFrame.
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	if in.done != nil {
		close(in.done)
	}
	return nil
}

// Started reports whether Start was called successfully.
func (in *Input) Started() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.started
}

// Closed reports whether Close was called.
func (in *Input) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Output is a recording implementation of audio.Output.
type Output struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned from Start. Use audio.ErrDeviceBusy
	// to exercise the blocked-playback path.
	StartErr error

	// WriteErr, if non-nil, is returned from every WriteFrame call.
	WriteErr error

	// WriteDelay, when non-zero, is slept in each WriteFrame to simulate
	// real-time rendering.
	WriteDelay time.Duration

	frames  []audio.Frame
	started bool
	closed  bool
}

// Start records the call and returns StartErr.
func (o *Output) Start(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.StartErr != nil {
		return o.StartErr
	}
	o.started = true
	o.closed = false
	return nil
}

// WriteFrame records the frame.
func (o *Output) WriteFrame(f audio.Frame) error {
	if o.WriteDelay > 0 {
		time.Sleep(o.WriteDelay)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.WriteErr != nil {
		return o.WriteErr
	}
	if o.closed {
		return errors.New("mock: output closed")
	}
	o.frames = append(o.frames, f)
	return nil
}

// Close marks the output closed.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// Frames returns a copy of all frames written so far.
func (o *Output) Frames() []audio.Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]audio.Frame, len(o.frames))
	copy(out, o.frames)
	return out
}

// Started reports whether Start was called successfully.
func (o *Output) Started() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}
