// Package timers implements the session timer manager: three independent
// deadline-based timers that protect a voice session against an inattentive
// or absent user.
//
//   - Activation window — armed on session activation; firing auto-mutes a
//     session where the user never spoke.
//   - Inactivity grace — armed whenever the session returns to listening
//     with nothing in flight; firing auto-mutes.
//   - Max utterance — armed on recording start; firing forces the recording
//     to end, bounding memory against a stuck-open microphone.
//
// At most one timer of each kind is armed at a time: re-arming a kind
// implicitly cancels the previous handle of that kind. A cancelled handle
// whose callback has already been scheduled by the runtime becomes a no-op
// via a per-kind generation check.
//
// All methods are safe for concurrent use. Callbacks run on their own
// goroutine and must not call back into the Manager while holding locks the
// callback path also takes.
package timers

import (
	"sync"
	"time"
)

// Kind identifies one of the three session timers.
type Kind int

const (
	// ActivationWindow is the accidental-activation guard.
	ActivationWindow Kind = iota

	// InactivityGrace is the idle auto-mute guard.
	InactivityGrace

	// MaxUtterance is the recording duration cap.
	MaxUtterance
)

// String returns the human-readable name of the timer kind.
func (k Kind) String() string {
	switch k {
	case ActivationWindow:
		return "activation_window"
	case InactivityGrace:
		return "inactivity_grace"
	case MaxUtterance:
		return "max_utterance"
	default:
		return "unknown"
	}
}

// handle pairs a runtime timer with the generation it was armed under.
type handle struct {
	timer *time.Timer
	gen   uint64
}

// Manager owns the three session timers.
type Manager struct {
	mu      sync.Mutex
	handles map[Kind]*handle
	gens    map[Kind]uint64
}

// NewManager creates an empty Manager with no timers armed.
func NewManager() *Manager {
	return &Manager{
		handles: make(map[Kind]*handle),
		gens:    make(map[Kind]uint64),
	}
}

// Arm schedules fire to run after d, cancelling any previously armed timer
// of the same kind first. The callback runs on its own goroutine.
func (m *Manager) Arm(kind Kind, d time.Duration, fire func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked(kind)
	m.gens[kind]++
	gen := m.gens[kind]

	h := &handle{gen: gen}
	h.timer = time.AfterFunc(d, func() {
		m.mu.Lock()
		cur, ok := m.handles[kind]
		if !ok || cur.gen != gen {
			// A newer arm or a cancel superseded this handle.
			m.mu.Unlock()
			return
		}
		delete(m.handles, kind)
		m.mu.Unlock()
		fire()
	})
	m.handles[kind] = h
}

// Cancel disarms the timer of the given kind, if armed.
func (m *Manager) Cancel(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked(kind)
}

// CancelAll disarms every timer. Called on mute and teardown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind := range m.handles {
		m.cancelLocked(kind)
	}
}

// Armed reports whether a timer of the given kind is currently armed.
func (m *Manager) Armed(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[kind]
	return ok
}

// cancelLocked stops and removes the handle for kind. Must be called with
// m.mu held. Bumping the generation makes an already-scheduled callback a
// no-op even when Stop returns false.
func (m *Manager) cancelLocked(kind Kind) {
	h, ok := m.handles[kind]
	if !ok {
		return
	}
	h.timer.Stop()
	delete(m.handles, kind)
	m.gens[kind]++
}
