// Package session implements the voice session state machine. The
// controller owns the microphone, the voice activity detector, the
// utterance recorder, the three session timers, and the playback
// controller's lifecycle, and exposes the small command surface the
// control server forwards to: activate, mute, toggle, retry playback,
// stop audio.
//
// Mute is the single cancellation point. It cancels all timers, stops the
// analysis loop, releases the microphone, discards any recording in
// progress, and stops in-flight playback, in that order. Everything
// asynchronous (transport replies, playback completions) carries the epoch
// observed when it started and is dropped when a mute has bumped the epoch
// since, so a stale reply can never flip the session back to listening.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sonantic-labs/parley/internal/observe"
	"github.com/sonantic-labs/parley/internal/playback"
	"github.com/sonantic-labs/parley/internal/recorder"
	"github.com/sonantic-labs/parley/internal/resilience"
	"github.com/sonantic-labs/parley/internal/timers"
	"github.com/sonantic-labs/parley/internal/transport"
	"github.com/sonantic-labs/parley/pkg/audio"
	"github.com/sonantic-labs/parley/pkg/vad"
)

// State is the externally visible session state.
type State int

const (
	// StateIdle means no session activity is happening.
	StateIdle State = iota

	// StateListening means the analysis loop is watching for speech.
	StateListening

	// StateProcessing means an utterance is in flight to the service.
	StateProcessing

	// StateSpeaking means a reply is being rendered.
	StateSpeaking
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Mode is the orthogonal muted/active flag.
type Mode int

const (
	// ModeMuted means the microphone is released and all timers are off.
	ModeMuted Mode = iota

	// ModeActive means the session holds the microphone.
	ModeActive
)

// String returns the human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeMuted:
		return "muted"
	case ModeActive:
		return "active"
	default:
		return "unknown"
	}
}

// EventType tags an Event pushed to the listener.
type EventType string

const (
	// EventState announces a state or mode change.
	EventState EventType = "state"

	// EventError carries a user-visible error message.
	EventError EventType = "error"

	// EventResponse carries the service's reply transcript.
	EventResponse EventType = "response"

	// EventNotice carries a transient informational message, such as the
	// single rate-limit cooldown notice.
	EventNotice EventType = "notice"
)

// Event is pushed to the registered listener on every observable change.
type Event struct {
	Type    EventType `json:"type"`
	State   string    `json:"state,omitempty"`
	Mode    string    `json:"mode,omitempty"`
	Message string    `json:"message,omitempty"`
	Text    string    `json:"text,omitempty"`
}

// Snapshot is the controller's observable state, served on /v1/state.
type Snapshot struct {
	State        string `json:"state"`
	Mode         string `json:"mode"`
	SessionID    string `json:"session_id,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	LastResponse string `json:"last_response,omitempty"`
	Playback     string `json:"playback"`
}

// Player is the playback surface the controller drives. Implemented by
// playback.Controller.
type Player interface {
	Play(ctx context.Context, reference string)
	Stop()
	Retry() bool
	Status() playback.Status
}

// Config holds the session controller's tuning values.
type Config struct {
	VAD vad.Config

	// MinUtterance and MinPayloadBytes are the recorder discard floors.
	MinUtterance    time.Duration
	MinPayloadBytes int

	// MaxUtterance force-ends a recording that never sees a VAD stop.
	MaxUtterance time.Duration

	// ActivationWindow auto-mutes a session that hears no speech at all
	// after activation.
	ActivationWindow time.Duration

	// InactivityGrace auto-mutes after this long without recorder activity.
	InactivityGrace time.Duration

	// SessionCreateAttempts and SessionCreateBackoff bound the
	// create-session retry loop.
	SessionCreateAttempts int
	SessionCreateBackoff  time.Duration

	// CooldownWindow is the rate-limit suppression window.
	CooldownWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.MinUtterance <= 0 {
		c.MinUtterance = 500 * time.Millisecond
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 45 * time.Second
	}
	if c.ActivationWindow <= 0 {
		c.ActivationWindow = 10 * time.Second
	}
	if c.InactivityGrace <= 0 {
		c.InactivityGrace = 20 * time.Second
	}
	if c.SessionCreateAttempts <= 0 {
		c.SessionCreateAttempts = 4
	}
	if c.SessionCreateBackoff <= 0 {
		c.SessionCreateBackoff = 500 * time.Millisecond
	}
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = 60 * time.Second
	}
}

// Deps are the controller's collaborators. NewEncoder is called per
// activation so a fresh codec state backs each microphone acquisition;
// NewPlayer is called once with the controller's callbacks.
type Deps struct {
	Client     transport.Client
	NewInput   func() audio.Input
	NewEncoder func() (recorder.Encoder, error)
	NewPlayer  func(cb playback.Callbacks) Player
	Metrics    *observe.Metrics
	Listener   func(Event)
}

// Controller is the voice session state machine. All exported methods are
// safe for concurrent use.
type Controller struct {
	cfg      Config
	client   transport.Client
	newInput func() audio.Input
	newEnc   func() (recorder.Encoder, error)
	player   Player
	timers   *timers.Manager
	cooldown *resilience.Cooldown
	metrics  *observe.Metrics
	listener func(Event)

	mu           sync.Mutex
	state        State
	mode         Mode
	sessionID    string
	lastError    string
	lastResponse string

	// epoch is bumped by every mute; asynchronous completions compare
	// their captured epoch before touching state.
	epoch uint64

	input      audio.Input
	rec        *recorder.Recorder
	det        *vad.Detector
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	closeOnce sync.Once
}

// New creates a muted, idle controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	cfg.applyDefaults()
	if err := cfg.VAD.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if deps.Client == nil || deps.NewInput == nil || deps.NewEncoder == nil || deps.NewPlayer == nil {
		return nil, errors.New("session: missing dependency")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Listener == nil {
		deps.Listener = func(Event) {}
	}

	c := &Controller{
		cfg:      cfg,
		client:   deps.Client,
		newInput: deps.NewInput,
		newEnc:   deps.NewEncoder,
		timers:   timers.NewManager(),
		cooldown: resilience.NewCooldown(cfg.CooldownWindow),
		metrics:  deps.Metrics,
		listener: deps.Listener,
	}
	c.player = deps.NewPlayer(playback.Callbacks{
		OnEnded:   c.playbackEnded,
		OnBlocked: c.playbackBlocked,
		OnError:   c.onError,
	})
	return c, nil
}

// Snapshot returns the controller's observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:        c.state.String(),
		Mode:         c.mode.String(),
		SessionID:    c.sessionID,
		LastError:    c.lastError,
		LastResponse: c.lastResponse,
		Playback:     c.player.Status().String(),
	}
}

// Activate acquires the microphone and starts listening. It is idempotent
// while active. Acquisition and session-creation failures are fatal to the
// call: the session stays muted and idle.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.mode == ModeActive {
		c.mu.Unlock()
		return nil
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	// Lazily create the remote session, with bounded backoff. The ID is
	// kept across mute/activate cycles; only a failed create retries.
	if sessionID == "" {
		err := resilience.Retry(ctx, c.cfg.SessionCreateAttempts, c.cfg.SessionCreateBackoff, func(ctx context.Context) error {
			id, err := c.client.CreateSession(ctx)
			if err != nil {
				return err
			}
			sessionID = id
			return nil
		})
		if err != nil {
			c.onError("could not reach the voice service")
			return fmt.Errorf("session: create session: %w", err)
		}
	}

	enc, err := c.newEnc()
	if err != nil {
		c.onError("no supported capture encoding")
		return fmt.Errorf("session: create encoder: %w", err)
	}

	in := c.newInput()
	if err := in.Start(ctx); err != nil {
		c.onError(acquisitionMessage(err))
		return fmt.Errorf("session: acquire microphone: %w", err)
	}

	det, err := vad.NewDetector(c.cfg.VAD)
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("session: %w", err)
	}

	c.mu.Lock()
	if c.mode == ModeActive {
		// Lost the race to a concurrent Activate.
		c.mu.Unlock()
		_ = in.Close()
		return nil
	}
	c.sessionID = sessionID
	c.input = in
	c.det = det
	c.rec = recorder.New(enc, recorder.Config{
		MinDuration: c.cfg.MinUtterance,
		MinBytes:    c.cfg.MinPayloadBytes,
	})
	c.mode = ModeActive
	c.state = StateListening
	c.lastError = ""
	epoch := c.epoch

	loopCtx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.loopDone = make(chan struct{})
	done := c.loopDone
	rec, d := c.rec, c.det
	c.mu.Unlock()

	c.timers.Arm(timers.ActivationWindow, c.cfg.ActivationWindow, func() {
		c.timerFired(timers.ActivationWindow)
	})
	c.armInactivity()

	c.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session activated", "session_id", sessionID)
	c.notifyState()

	go c.analysisLoop(loopCtx, done, epoch, in, rec, d)
	return nil
}

// Mute tears down all session activity: timers, analysis loop, microphone,
// recording, playback. Idempotent when already muted.
func (c *Controller) Mute() {
	c.mu.Lock()
	if c.mode == ModeMuted {
		c.mu.Unlock()
		return
	}
	c.mode = ModeMuted
	c.state = StateIdle
	c.epoch++
	in := c.input
	rec := c.rec
	cancel := c.loopCancel
	c.input = nil
	c.loopCancel = nil
	c.mu.Unlock()

	c.timers.CancelAll()
	if cancel != nil {
		cancel()
	}
	if in != nil {
		_ = in.Close()
	}
	if rec != nil {
		rec.Discard()
	}
	c.player.Stop()

	c.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session muted")
	c.notifyState()
}

// Toggle flips between active and muted.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	active := c.mode == ModeActive
	c.mu.Unlock()
	if active {
		c.Mute()
		return nil
	}
	return c.Activate(ctx)
}

// RetryPlayback resumes a blocked playback attempt. It exists for the
// control surface: the platform only releases a contended output device in
// response to a fresh user action, so the command must originate from one.
func (c *Controller) RetryPlayback() bool {
	if !c.player.Retry() {
		return false
	}
	c.mu.Lock()
	c.lastError = ""
	if c.mode == ModeActive {
		c.state = StateSpeaking
	}
	c.mu.Unlock()
	c.notifyState()
	return true
}

// StopAudio aborts the current playback attempt, if any, and returns the
// session to listening.
func (c *Controller) StopAudio() {
	c.player.Stop()
	c.mu.Lock()
	changed := c.state == StateSpeaking
	if changed {
		if c.mode == ModeActive {
			c.state = StateListening
		} else {
			c.state = StateIdle
		}
	}
	c.mu.Unlock()
	if changed {
		c.armInactivity()
		c.notifyState()
	}
}

// Close mutes the session and waits for the analysis loop to exit.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		done := c.loopDone
		c.mu.Unlock()

		c.Mute()
		if done != nil {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				slog.Warn("analysis loop did not exit in time")
			}
		}
	})
	return nil
}

// ── Analysis loop ────────────────────────────────────────────────────────────

// analysisLoop reads microphone frames, runs them through the detector, and
// drives the recorder. One iteration per frame; at 20 ms frames this is the
// session's ~50 Hz tick.
func (c *Controller) analysisLoop(ctx context.Context, done chan struct{}, epoch uint64, in audio.Input, rec *recorder.Recorder, det *vad.Detector) {
	defer close(done)

	for {
		frame, err := in.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || !c.sameEpoch(epoch) {
				return
			}
			slog.Error("microphone read failed", "err", err)
			c.onError("microphone stopped working")
			c.Mute()
			return
		}
		if ctx.Err() != nil || !c.sameEpoch(epoch) {
			return
		}

		// While an utterance is in flight or a reply is rendering, frames
		// are ignored and the detector is held at rest so the next
		// utterance needs a fresh activation dwell.
		if c.currentState() != StateListening {
			det.Reset()
			continue
		}

		switch det.OnFrame(audio.RMS(frame.Data)) {
		case vad.Start:
			rec.Begin()
			c.timers.Cancel(timers.ActivationWindow)
			// A live recording is in flight: the duration cap is the only
			// timer allowed to end it. The grace timer comes back when the
			// session returns to listening.
			c.timers.Cancel(timers.InactivityGrace)
			c.timers.Arm(timers.MaxUtterance, c.cfg.MaxUtterance, func() {
				c.metrics.RecordTimerFiring(context.Background(), timers.MaxUtterance.String())
				slog.Info("utterance hit duration cap, forcing end")
				c.finishUtterance(epoch)
			})
		case vad.Stop:
			if rec.Recording() {
				c.finishUtterance(epoch)
			}
		}

		if rec.Recording() {
			if err := rec.Append(frame); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
				slog.Warn("frame encode failed", "err", err)
			}
		}
	}
}

// finishUtterance ends the current recording and, when it survives the
// discard checks, hands it to the transport path. Called from the analysis
// loop on VAD stop and from the max-utterance timer; whichever runs second
// finds the recorder stopped and does nothing.
func (c *Controller) finishUtterance(epoch uint64) {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec == nil || !rec.Recording() {
		return
	}

	c.timers.Cancel(timers.MaxUtterance)
	payload, err := rec.End()
	if err != nil {
		var de *recorder.DiscardError
		if errors.As(err, &de) {
			// Not an error: too short or too small. Keep listening.
			slog.Debug("utterance discarded", "reason", de.Reason, "duration", de.Duration, "bytes", de.Bytes)
			c.metrics.RecordUtterance(context.Background(), "discarded", de.Duration)
			c.rearmInactivity(epoch)
			return
		}
		if errors.Is(err, recorder.ErrNotRecording) {
			return
		}
		c.onError("recording failed")
		c.rearmInactivity(epoch)
		return
	}

	c.mu.Lock()
	if c.epoch != epoch || c.mode != ModeActive {
		c.mu.Unlock()
		return
	}
	c.state = StateProcessing
	sessionID := c.sessionID
	c.mu.Unlock()
	c.notifyState()

	go c.process(epoch, sessionID, payload)
}

// ── Transport path ───────────────────────────────────────────────────────────

// process sends one utterance and starts playback of the reply. Runs on its
// own goroutine; every exit path returns the session to listening (or idle
// when a mute interleaved) via settle.
func (c *Controller) process(epoch uint64, sessionID string, payload recorder.Payload) {
	ctx := context.Background()

	// Rate-limit cooldown gate: drop without a network call, with exactly
	// one user-visible notice per window.
	if !c.cooldown.Allow() {
		if c.cooldown.FirstDenial() {
			c.notify(Event{Type: EventNotice, Message: fmt.Sprintf(
				"the service is rate limiting; ignoring speech for the next %s",
				c.cooldown.Remaining().Round(time.Second))})
		}
		slog.Debug("utterance dropped by rate-limit cooldown", "utterance_id", payload.ID)
		c.metrics.RecordUtterance(ctx, "cooldown_dropped", payload.Duration)
		c.settle(epoch)
		return
	}

	c.metrics.RecordUtterance(ctx, "sent", payload.Duration)
	sendStart := time.Now()
	reply, err := c.client.SendUtterance(ctx, transport.SendRequest{
		SessionID:   sessionID,
		UtteranceID: payload.ID,
		Audio:       payload.Data,
		Duration:    payload.Duration,
	})
	if err != nil {
		c.metrics.RecordTransportError(ctx, errorKind(err))
		if transport.IsRateLimited(err) {
			// The window's single notice is surfaced here, at rejection
			// time; every drop inside the window stays silent.
			c.cooldown.Trip()
			if c.cooldown.FirstDenial() {
				c.notify(Event{Type: EventNotice, Message: fmt.Sprintf(
					"the service is rate limiting; ignoring speech for the next %s",
					c.cooldown.Remaining().Round(time.Second))})
			}
		} else {
			c.onError("sending your speech failed")
		}
		slog.Error("utterance send failed", "utterance_id", payload.ID, "err", err)
		c.settle(epoch)
		return
	}
	c.metrics.RoundTripDuration.Record(ctx, time.Since(sendStart).Seconds())

	c.mu.Lock()
	if c.epoch != epoch || c.mode != ModeActive {
		// A mute superseded this round trip; the reply is stale.
		c.mu.Unlock()
		slog.Debug("dropping stale reply", "utterance_id", payload.ID)
		return
	}
	c.lastResponse = reply.Text
	c.state = StateSpeaking
	c.mu.Unlock()

	c.notify(Event{Type: EventResponse, Text: reply.Text})
	c.notifyState()
	c.player.Play(ctx, reply.AudioReference)
}

// settle returns the session to listening after a processing path that did
// not reach playback, unless a mute interleaved.
func (c *Controller) settle(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.mode != ModeActive {
		c.mu.Unlock()
		return
	}
	c.state = StateListening
	c.mu.Unlock()
	c.armInactivity()
	c.notifyState()
}

// ── Playback callbacks ───────────────────────────────────────────────────────

// playbackEnded returns to listening after a reply finishes rendering. The
// playback token guard already filtered superseded attempts; the epoch check
// covers a mute that raced the final frames.
func (c *Controller) playbackEnded() {
	c.mu.Lock()
	if c.mode != ModeActive {
		c.state = StateIdle
		c.mu.Unlock()
		return
	}
	c.state = StateListening
	c.mu.Unlock()
	c.armInactivity()
	c.notifyState()
}

// playbackBlocked parks the session with a persistent error until the user
// retries from the control surface.
func (c *Controller) playbackBlocked() {
	c.mu.Lock()
	c.state = StateIdle
	c.lastError = "audio output is blocked; retry from the controls"
	c.mu.Unlock()
	c.notify(Event{Type: EventError, Message: "audio output is blocked; retry from the controls"})
	c.notifyState()
}

// ── Timers and notifications ─────────────────────────────────────────────────

// armInactivity re-arms the idle auto-mute. Runs on every return to
// listening; it is cancelled for as long as a recording is in flight.
func (c *Controller) armInactivity() {
	c.timers.Arm(timers.InactivityGrace, c.cfg.InactivityGrace, func() {
		c.timerFired(timers.InactivityGrace)
	})
}

// rearmInactivity re-arms the idle auto-mute unless a mute interleaved.
func (c *Controller) rearmInactivity(epoch uint64) {
	c.mu.Lock()
	stale := c.epoch != epoch || c.mode != ModeActive
	c.mu.Unlock()
	if !stale {
		c.armInactivity()
	}
}

// timerFired handles the auto-mute timers.
func (c *Controller) timerFired(kind timers.Kind) {
	c.metrics.RecordTimerFiring(context.Background(), kind.String())
	slog.Info("session timer fired, muting", "timer", kind.String())
	c.Mute()
}

// onError records a user-visible error and forwards it to the listener. It
// is the single funnel for component failures; it never transitions state.
func (c *Controller) onError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
	c.notify(Event{Type: EventError, Message: msg})
}

func (c *Controller) notifyState() {
	c.mu.Lock()
	ev := Event{Type: EventState, State: c.state.String(), Mode: c.mode.String()}
	c.mu.Unlock()
	c.notify(ev)
}

func (c *Controller) notify(ev Event) {
	c.listener(ev)
}

func (c *Controller) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) sameEpoch(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// acquisitionMessage maps device acquisition failures onto the persistent
// user-facing messages.
func acquisitionMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermission):
		return "microphone access was denied"
	case errors.Is(err, audio.ErrNoDevice):
		return "no microphone was found"
	case errors.Is(err, audio.ErrDeviceBusy):
		return "the microphone is in use by another application"
	default:
		return "the microphone could not be opened"
	}
}

// errorKind extracts the transport classification for metric attributes.
func errorKind(err error) string {
	var te *transport.Error
	if errors.As(err, &te) {
		return te.Kind.String()
	}
	return transport.KindNetwork.String()
}
