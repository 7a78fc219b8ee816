// Package portaudio provides PortAudio-backed implementations of the
// audio.Input and audio.Output device interfaces.
//
// PortAudio is initialised lazily on first device open and terminated when
// the last open handle is closed. Device lookup is by substring match on the
// PortAudio device name; an empty name selects the system default.
package portaudio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/sonantic-labs/parley/pkg/audio"
)

var (
	initMu   sync.Mutex
	initRefs int
)

// acquire initialises PortAudio on the first call and increments the
// reference count.
func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	initRefs++
	return nil
}

// release decrements the reference count and terminates PortAudio when it
// reaches zero.
func release() {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return
	}
	initRefs--
	if initRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// findDevice returns the device whose name contains name (case-insensitive),
// filtered to input or output capability. Returns nil when no device matches.
func findDevice(name string, wantInput bool) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	needle := strings.ToLower(name)
	for _, d := range devices {
		if wantInput && d.MaxInputChannels == 0 {
			continue
		}
		if !wantInput && d.MaxOutputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	return nil, nil
}

// classifyOpenErr maps a PortAudio stream-open failure onto the audio
// package's acquisition error taxonomy.
func classifyOpenErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, portaudio.DeviceUnavailable) {
		return fmt.Errorf("%w: %v", audio.ErrDeviceBusy, err)
	}
	if errors.Is(err, portaudio.InvalidDevice) {
		return fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
	}
	return err
}

// CheckInput reports whether at least one capture device is available.
// Used by readiness probes.
func CheckInput() error {
	if err := acquire(); err != nil {
		return err
	}
	defer release()
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
	}
	return nil
}

// CheckOutput reports whether at least one playback device is available.
// Used by readiness probes.
func CheckOutput() error {
	if err := acquire(); err != nil {
		return err
	}
	defer release()
	if _, err := portaudio.DefaultOutputDevice(); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
	}
	return nil
}
