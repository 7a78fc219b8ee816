package resilience

import (
	"sync"
	"time"
)

// defaultCooldownWindow is used when a Cooldown is created with a
// non-positive window.
const defaultCooldownWindow = 60 * time.Second

// Cooldown is a suppression gate used after a rate-limit rejection from a
// remote service. While tripped, callers drop work locally instead of
// re-sending it, so a throttled endpoint is not hammered further.
//
// FirstDenial returns true for exactly one denied call per window, letting
// the caller surface a single user-visible notice while suppressing the
// rest silently.
//
// Cooldown is safe for concurrent use.
type Cooldown struct {
	mu      sync.Mutex
	window  time.Duration
	until   time.Time
	noticed bool

	// now is the clock function, replaceable in tests.
	now func() time.Time
}

// NewCooldown creates a Cooldown with the given suppression window.
// A non-positive window falls back to 60 s.
func NewCooldown(window time.Duration) *Cooldown {
	if window <= 0 {
		window = defaultCooldownWindow
	}
	return &Cooldown{
		window: window,
		now:    time.Now,
	}
}

// Trip starts (or restarts) the cooldown window from now.
func (c *Cooldown) Trip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until = c.now().Add(c.window)
	c.noticed = false
}

// Allow reports whether work may proceed. It returns false while the window
// is active. Once the window expires, the gate resets and Allow returns
// true again.
func (c *Cooldown) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.until.IsZero() {
		return true
	}
	if c.now().Before(c.until) {
		return false
	}
	c.until = time.Time{}
	c.noticed = false
	return true
}

// FirstDenial reports whether this is the first denied call of the current
// window. Callers that just received false from [Cooldown.Allow] use this
// to decide whether to surface a notice. Subsequent calls within the same
// window return false.
func (c *Cooldown) FirstDenial() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noticed {
		return false
	}
	c.noticed = true
	return true
}

// Remaining returns the time left in the current window, or zero when the
// gate is open.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.until.IsZero() {
		return 0
	}
	d := c.until.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}
