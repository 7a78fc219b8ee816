package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/sonantic-labs/parley/pkg/audio"
)

// Output renders mono PCM audio to a PortAudio output device. It implements
// audio.Output.
type Output struct {
	sampleRate int
	frameSize  int
	deviceName string

	mu      sync.Mutex
	stream  *portaudio.Stream
	buffer  []int16
	running bool
	closed  bool
}

// NewOutput creates a playback handle. deviceName may be empty to use the
// system default output device.
func NewOutput(sampleRate, frameSize int, deviceName string) *Output {
	return &Output{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		deviceName: deviceName,
		buffer:     make([]int16, frameSize),
	}
}

// Start opens the playback stream. The ctx governs only the open attempt.
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acquire(); err != nil {
		return err
	}

	var dev *portaudio.DeviceInfo
	var err error
	if o.deviceName != "" {
		dev, err = findDevice(o.deviceName, false)
		if err != nil {
			release()
			return err
		}
		if dev == nil {
			release()
			return fmt.Errorf("%w: output %q", audio.ErrNoDevice, o.deviceName)
		}
	} else {
		dev, err = portaudio.DefaultOutputDevice()
		if err != nil {
			release()
			return fmt.Errorf("%w: no default output: %v", audio.ErrNoDevice, err)
		}
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.Input.Device = nil
	params.Input.Channels = 0
	params.SampleRate = float64(o.sampleRate)
	params.FramesPerBuffer = o.frameSize

	stream, err := portaudio.OpenStream(params, o.buffer)
	if err != nil {
		release()
		return classifyOpenErr(fmt.Errorf("portaudio: open playback stream: %w", err))
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return classifyOpenErr(fmt.Errorf("portaudio: start playback: %w", err))
	}

	o.stream = stream
	o.running = true
	o.closed = false
	slog.Debug("audio playback started", "device", dev.Name, "rate", o.sampleRate, "frame_size", o.frameSize)
	return nil
}

// WriteFrame renders one frame. Partial trailing frames are zero-padded.
func (o *Output) WriteFrame(f audio.Frame) error {
	o.mu.Lock()
	stream := o.stream
	running := o.running
	o.mu.Unlock()
	if !running || stream == nil {
		return errors.New("portaudio: output not started")
	}

	samples := audio.BytesToInt16s(f.Data)
	if len(samples) > o.frameSize {
		return fmt.Errorf("portaudio: frame too large: got %d samples, want ≤ %d", len(samples), o.frameSize)
	}

	o.mu.Lock()
	copy(o.buffer, samples)
	for i := len(samples); i < o.frameSize; i++ {
		o.buffer[i] = 0
	}
	o.mu.Unlock()

	if err := stream.Write(); err != nil {
		return fmt.Errorf("portaudio: write frame: %w", err)
	}
	return nil
}

// Close stops playback and releases the device. Safe to call more than once.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	if o.stream != nil {
		_ = o.stream.Stop()
		_ = o.stream.Close()
		o.stream = nil
		release()
	}
	o.running = false
	return nil
}
