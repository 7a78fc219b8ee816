// Package vad implements energy-based voice activity detection with
// hysteresis.
//
// The [Detector] consumes one RMS loudness value per analysis tick and
// decides utterance start/stop events using two distinct thresholds plus
// frame-count dwell requirements. Single-threshold detectors chatter near
// the boundary; requiring several consecutive frames on each side of a
// hysteresis band rejects transient clicks and brief dropouts without adding
// perceptible latency at a ~20 ms tick.
//
// Detection is synchronous: [Detector.OnFrame] returns immediately, making
// it suitable for the low-latency capture loop that gates the recorder.
//
// A Detector maintains per-stream state and must not be shared across
// goroutines.
package vad

import "fmt"

// Event is the detection result for a single analysis tick.
type Event int

const (
	// None indicates no state change this tick.
	None Event = iota

	// Start indicates speech onset — the activation dwell requirement was
	// just met.
	Start

	// Stop indicates speech offset — the deactivation dwell requirement was
	// just met.
	Stop
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case None:
		return "none"
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Config holds the hysteresis parameters for a [Detector]. RMS thresholds
// are normalised loudness in [0.0, 1.0].
type Config struct {
	// ActivationThreshold is the RMS level at or above which a tick counts
	// toward speech onset. Typical: 0.02.
	ActivationThreshold float64

	// DeactivationThreshold is the RMS level at or below which a tick counts
	// toward speech offset. Must be below ActivationThreshold; the gap
	// between the two is the hysteresis band. Typical: 0.01.
	DeactivationThreshold float64

	// ActivationFrames is the number of consecutive loud ticks required to
	// emit [Start]. Typical: 3.
	ActivationFrames int

	// DeactivationFrames is the number of consecutive quiet ticks required
	// to emit [Stop]. Typical: 3.
	DeactivationFrames int
}

// Validate reports whether the configuration is coherent.
func (c Config) Validate() error {
	if c.ActivationThreshold <= 0 || c.ActivationThreshold > 1 {
		return fmt.Errorf("vad: activation threshold %v out of range (0, 1]", c.ActivationThreshold)
	}
	if c.DeactivationThreshold <= 0 || c.DeactivationThreshold > 1 {
		return fmt.Errorf("vad: deactivation threshold %v out of range (0, 1]", c.DeactivationThreshold)
	}
	if c.DeactivationThreshold >= c.ActivationThreshold {
		return fmt.Errorf("vad: deactivation threshold %v must be below activation threshold %v",
			c.DeactivationThreshold, c.ActivationThreshold)
	}
	if c.ActivationFrames < 1 {
		return fmt.Errorf("vad: activation frames %d must be ≥ 1", c.ActivationFrames)
	}
	if c.DeactivationFrames < 1 {
		return fmt.Errorf("vad: deactivation frames %d must be ≥ 1", c.DeactivationFrames)
	}
	return nil
}

// Detector is a stateful hysteresis voice activity detector.
type Detector struct {
	cfg Config

	active             bool
	activationFrames   int
	deactivationFrames int
}

// NewDetector creates a Detector. Returns an error when cfg is invalid.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// OnFrame consumes one RMS value and returns the detection event for this
// tick.
//
// Ticks at or above the activation threshold advance the activation counter
// and clear the deactivation counter; ticks at or below the deactivation
// threshold do the reverse. A tick landing inside the hysteresis band decays
// both counters by one (never below zero) instead of clearing them, so a
// single borderline tick does not erase accumulated evidence.
func (d *Detector) OnFrame(rms float64) Event {
	switch {
	case rms >= d.cfg.ActivationThreshold:
		d.activationFrames++
		d.deactivationFrames = 0
	case rms <= d.cfg.DeactivationThreshold:
		d.deactivationFrames++
		d.activationFrames = 0
	default:
		if d.activationFrames > 0 {
			d.activationFrames--
		}
		if d.deactivationFrames > 0 {
			d.deactivationFrames--
		}
	}

	// Activation is checked first; the disjoint thresholds make it
	// impossible for both dwell requirements to be met on the same tick.
	if !d.active && d.activationFrames >= d.cfg.ActivationFrames {
		d.active = true
		d.activationFrames = 0
		return Start
	}
	if d.active && d.deactivationFrames >= d.cfg.DeactivationFrames {
		d.active = false
		d.deactivationFrames = 0
		return Stop
	}
	return None
}

// Active reports whether the detector currently considers speech present.
func (d *Detector) Active() bool {
	return d.active
}

// Reset clears all accumulated detection state. Use this when the audio
// stream is interrupted or restarted so stale counters from the previous
// segment do not affect subsequent frames.
func (d *Detector) Reset() {
	d.active = false
	d.activationFrames = 0
	d.deactivationFrames = 0
}
