package health

import "context"

// Transport builds the readiness check for the remote voice service. The
// probe is typically transport.HTTPClient.Ping.
func Transport(ping func(ctx context.Context) error) Checker {
	return Checker{Name: "transport", Check: ping}
}

// AudioInput builds the readiness check for the capture device. The probe
// is typically portaudio.CheckInput; it opens and immediately closes the
// device, so it must not run while a session holds the microphone. Pass an
// inUse func reporting that, and the check passes trivially while the
// device is legitimately held.
func AudioInput(probe func() error, inUse func() bool) Checker {
	return Checker{Name: "audio_input", Check: deviceCheck(probe, inUse)}
}

// AudioOutput builds the readiness check for the playback device.
func AudioOutput(probe func() error, inUse func() bool) Checker {
	return Checker{Name: "audio_output", Check: deviceCheck(probe, inUse)}
}

func deviceCheck(probe func() error, inUse func() bool) func(ctx context.Context) error {
	return func(_ context.Context) error {
		if inUse != nil && inUse() {
			// Held by the active session; that counts as available.
			return nil
		}
		return probe()
	}
}
