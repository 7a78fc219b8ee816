package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/sonantic-labs/parley/pkg/audio"
)

// Input captures mono PCM audio from a PortAudio input device. It implements
// audio.Input.
//
// ReadFrame must be called from a single goroutine; Start and Close are safe
// to call from any goroutine.
type Input struct {
	sampleRate int
	frameSize  int
	deviceName string

	mu      sync.Mutex
	stream  *portaudio.Stream
	buffer  []int16
	running bool
	closed  bool
	elapsed time.Duration
}

// NewInput creates a capture handle. frameSize is the number of samples per
// frame (e.g., 960 for 20 ms at 48 kHz). deviceName may be empty to use the
// system default input device.
func NewInput(sampleRate, frameSize int, deviceName string) *Input {
	return &Input{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		deviceName: deviceName,
		buffer:     make([]int16, frameSize),
	}
}

// Start opens the capture stream. The ctx governs only the open attempt.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return nil
	}
	if in.closed {
		return errors.New("portaudio: input already closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acquire(); err != nil {
		return err
	}

	var dev *portaudio.DeviceInfo
	var err error
	if in.deviceName != "" {
		dev, err = findDevice(in.deviceName, true)
		if err != nil {
			release()
			return err
		}
		if dev == nil {
			release()
			return fmt.Errorf("%w: input %q", audio.ErrNoDevice, in.deviceName)
		}
	} else {
		dev, err = portaudio.DefaultInputDevice()
		if err != nil {
			release()
			return fmt.Errorf("%w: no default input: %v", audio.ErrNoDevice, err)
		}
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(in.sampleRate)
	params.FramesPerBuffer = in.frameSize

	stream, err := portaudio.OpenStream(params, in.buffer)
	if err != nil {
		release()
		return classifyOpenErr(fmt.Errorf("portaudio: open capture stream: %w", err))
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return classifyOpenErr(fmt.Errorf("portaudio: start capture: %w", err))
	}

	in.stream = stream
	in.running = true
	in.elapsed = 0
	slog.Debug("audio capture started", "device", dev.Name, "rate", in.sampleRate, "frame_size", in.frameSize)
	return nil
}

// ReadFrame blocks until one frame has been captured and returns a copy.
func (in *Input) ReadFrame() (audio.Frame, error) {
	in.mu.Lock()
	stream := in.stream
	running := in.running
	in.mu.Unlock()
	if !running || stream == nil {
		return audio.Frame{}, errors.New("portaudio: input not started")
	}

	if err := stream.Read(); err != nil {
		return audio.Frame{}, fmt.Errorf("portaudio: read frame: %w", err)
	}

	in.mu.Lock()
	data := audio.Int16sToBytes(in.buffer)
	ts := in.elapsed
	in.elapsed += time.Duration(in.frameSize) * time.Second / time.Duration(in.sampleRate)
	in.mu.Unlock()

	return audio.Frame{
		Data:       data,
		SampleRate: in.sampleRate,
		Channels:   1,
		Timestamp:  ts,
	}, nil
}

// Close stops capture and releases the device. Safe to call more than once.
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return nil
	}
	in.closed = true
	if in.stream != nil {
		_ = in.stream.Stop()
		_ = in.stream.Close()
		in.stream = nil
		release()
	}
	in.running = false
	return nil
}
