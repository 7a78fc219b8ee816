// Package playback implements the token-guarded playback controller: it
// resolves an audio reference to a byte stream, negotiates a codec, waits
// for buffering readiness with a bounded timeout, renders the audio to an
// output device, recovers from one mid-stream stall, and parks rather than
// fails when the output device cannot be acquired.
//
// Every call to [Controller.Play] allocates a new monotonically increasing
// token and unconditionally tears down the previous attempt's resources.
// Asynchronous completions from a superseded attempt check their captured
// token against the controller's current one and become no-ops, so at most
// one attempt ever drives session state — even when an older attempt's
// events resolve late.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sonantic-labs/parley/internal/observe"
	"github.com/sonantic-labs/parley/pkg/audio"
)

// ErrorKind classifies a playback failure.
type ErrorKind int

const (
	// KindNetwork covers source fetch failures, buffering timeouts, and
	// unrecovered stalls.
	KindNetwork ErrorKind = iota

	// KindDecode covers corrupt or undecodable audio data.
	KindDecode

	// KindUnsupported covers payloads in no negotiable format. Not retried:
	// a different codec will not appear on reload.
	KindUnsupported

	// KindAborted covers intentional stops — a superseding Play, an
	// explicit Stop, or session teardown. Swallowed, never surfaced.
	KindAborted
)

// String returns the human-readable name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindUnsupported:
		return "unsupported-format"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Error is a classified playback failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("playback: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Status describes the externally visible state of the current attempt.
type Status int

const (
	// StatusIdle means no attempt exists.
	StatusIdle Status = iota

	// StatusLoading means the attempt is buffering or negotiating a codec.
	StatusLoading

	// StatusPlaying means frames are being rendered.
	StatusPlaying

	// StatusStalled means the source dried up mid-stream and a reload is in
	// progress.
	StatusStalled

	// StatusEnded means the attempt completed naturally.
	StatusEnded

	// StatusFailed means the attempt hit a fatal error.
	StatusFailed

	// StatusBlocked means the output device could not be acquired. The
	// attempt is parked, not failed; Retry resumes it.
	StatusBlocked
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusStalled:
		return "stalled"
	case StatusEnded:
		return "ended"
	case StatusFailed:
		return "failed"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Opener resolves audio references into readable streams. Satisfied by
// transport.Client.
type Opener interface {
	OpenAudio(ctx context.Context, reference string) (io.ReadCloser, int64, error)
}

// OutputFactory creates a fresh output device handle. Each attempt (and each
// blocked-retry) opens the device anew, so a previously busy device can be
// acquired later.
type OutputFactory func() audio.Output

// Config holds the playback controller's tuning values.
type Config struct {
	// Codecs is the ordered codec preference list.
	Codecs []Codec

	// ReadyTimeout bounds the wait for MinStartBytes before playback
	// degrades or fails. Default 5 s.
	ReadyTimeout time.Duration

	// MinStartBytes is the buffer level considered "safely playable".
	// Default 16 KiB.
	MinStartBytes int

	// StallTimeout is how long a dry buffer mid-stream counts as a stall.
	// Default 3 s.
	StallTimeout time.Duration

	// SampleRate is the output device rate. Default 48000.
	SampleRate int

	// FrameSize is the output device frame size in samples. Default 960.
	FrameSize int
}

func (c *Config) applyDefaults() {
	if len(c.Codecs) == 0 {
		c.Codecs = []Codec{CodecOggOpus, CodecWAV, CodecPCM16}
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 5 * time.Second
	}
	if c.MinStartBytes <= 0 {
		c.MinStartBytes = 16 << 10
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 3 * time.Second
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 960
	}
}

// Callbacks are the controller's notifications to its owner. All callbacks
// fire from the attempt goroutine and are already token-guarded: a
// superseded attempt never invokes them.
type Callbacks struct {
	// OnEnded fires on natural completion.
	OnEnded func()

	// OnBlocked fires when the output device cannot be acquired. The owner
	// should surface the condition and call Retry from a later user action.
	OnBlocked func()

	// OnError fires on fatal attempt errors with a user-facing message.
	OnError func(msg string)
}

// attempt is the per-playback state. One attempt handles one audio
// reference; a new Play supersedes it.
type attempt struct {
	token      uint64
	ref        string
	retryCount int

	ctx    context.Context
	cancel context.CancelFunc

	// samplesPlayed counts rendered samples at the decoder's native rate,
	// used to reposition after a reload.
	samplesPlayed int64

	mu     sync.Mutex
	status Status
	src    io.ReadCloser
	buf    *streamBuffer
	out    audio.Output
	start  time.Time
}

func (a *attempt) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *attempt) getStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// teardown releases the attempt's source, buffer, and output device. Safe to
// call more than once and from any goroutine.
func (a *attempt) teardown() {
	a.cancel()
	a.mu.Lock()
	src, buf, out := a.src, a.buf, a.out
	a.src, a.buf, a.out = nil, nil, nil
	a.mu.Unlock()

	if src != nil {
		_ = src.Close()
	}
	if buf != nil {
		buf.abort(&Error{Kind: KindAborted, Err: errors.New("attempt torn down")})
	}
	if out != nil {
		_ = out.Close()
	}
}

// Controller owns playback attempts. All methods are safe for concurrent
// use.
type Controller struct {
	opener    Opener
	newOutput OutputFactory
	cfg       Config
	metrics   *observe.Metrics
	cb        Callbacks

	// token is the concurrency invariant: only the attempt holding the
	// current value may drive state.
	token atomic.Uint64

	mu  sync.Mutex
	cur *attempt
}

// New creates a playback controller. The metrics instance may be nil, in
// which case the package default is used.
func New(opener Opener, newOutput OutputFactory, cfg Config, metrics *observe.Metrics, cb Callbacks) *Controller {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Controller{
		opener:    opener,
		newOutput: newOutput,
		cfg:       cfg,
		metrics:   metrics,
		cb:        cb,
	}
}

// Status returns the current attempt's status, or StatusIdle.
func (c *Controller) Status() Status {
	c.mu.Lock()
	a := c.cur
	c.mu.Unlock()
	if a == nil {
		return StatusIdle
	}
	return a.getStatus()
}

// current reports whether a still holds the controller's token.
func (c *Controller) current(a *attempt) bool {
	return c.token.Load() == a.token
}

// Play begins handling a new audio reference. Any prior attempt is
// superseded: its resources are torn down immediately and its late events
// become no-ops via the token guard. Play returns once the attempt goroutine
// is launched; completion is reported through the callbacks.
func (c *Controller) Play(ctx context.Context, reference string) {
	token := c.token.Add(1)
	actx, cancel := context.WithCancel(ctx)
	a := &attempt{
		token:  token,
		ref:    reference,
		ctx:    actx,
		cancel: cancel,
		status: StatusLoading,
		start:  time.Now(),
	}

	c.mu.Lock()
	prev := c.cur
	c.cur = a
	c.mu.Unlock()

	if prev != nil {
		if prev.getStatus() == StatusPlaying || prev.getStatus() == StatusLoading || prev.getStatus() == StatusStalled {
			c.metrics.RecordPlaybackAttempt(context.Background(), "superseded")
		}
		prev.teardown()
	}

	slog.Debug("playback attempt started", "token", token, "reference", reference)
	go c.run(a)
}

// Stop tears down the current attempt, if any. The teardown is classified
// as aborted and produces no error callback.
func (c *Controller) Stop() {
	// Bump the token so any in-flight events from the attempt are stale.
	c.token.Add(1)

	c.mu.Lock()
	a := c.cur
	c.cur = nil
	c.mu.Unlock()

	if a == nil {
		return
	}
	if s := a.getStatus(); s == StatusPlaying || s == StatusLoading || s == StatusStalled || s == StatusBlocked {
		c.metrics.RecordPlaybackAttempt(context.Background(), "superseded")
	}
	a.teardown()
}

// Retry resumes a blocked attempt. It must be invoked from a user action
// (the control surface's retry command); calling it in any other state is a
// no-op returning false.
func (c *Controller) Retry() bool {
	c.mu.Lock()
	a := c.cur
	c.mu.Unlock()

	if a == nil || !c.current(a) || a.getStatus() != StatusBlocked {
		return false
	}
	slog.Info("retrying blocked playback", "token", a.token)
	go c.startRendering(a)
	return true
}

// run drives one attempt from source open through completion.
func (c *Controller) run(a *attempt) {
	if !c.openSource(a) {
		return
	}

	// Readiness: wait for the safely-playable buffer level, bounded by the
	// ready timeout. On timeout with at least a sniffable amount buffered,
	// degrade and start anyway instead of failing outright.
	if !a.buf.WaitReady(c.cfg.MinStartBytes, c.cfg.ReadyTimeout) {
		if a.buf.Buffered() < sniffLen {
			c.fail(a, &Error{Kind: KindNetwork, Err: fmt.Errorf("no data after %v", c.cfg.ReadyTimeout)})
			return
		}
		slog.Warn("playback starting degraded: ready timeout with partial buffer",
			"token", a.token, "buffered", a.buf.Buffered())
	}
	if !c.current(a) {
		return
	}

	c.startRendering(a)
}

// openSource resolves the reference and starts the background fill. Reports
// false when the attempt cannot continue.
func (c *Controller) openSource(a *attempt) bool {
	src, size, err := c.opener.OpenAudio(a.ctx, a.ref)
	if err != nil {
		c.fail(a, classifyErr(err))
		return false
	}

	buf := newStreamBuffer()
	a.mu.Lock()
	a.src = src
	a.buf = buf
	a.mu.Unlock()

	go buf.fill(src)
	slog.Debug("playback source opened", "token", a.token, "size", size)
	return true
}

// startRendering negotiates the codec, acquires the output device, and runs
// the render loop. Shared by the initial run and by blocked retries — the
// sniff does not consume buffered bytes, so a parked attempt resumes from a
// pristine stream.
func (c *Controller) startRendering(a *attempt) {
	head := a.buf.Peek(sniffLen, c.cfg.ReadyTimeout)
	codec, ok := sniffCodec(head, c.cfg.Codecs)
	if !ok {
		c.fail(a, &Error{Kind: KindUnsupported, Err: fmt.Errorf("payload codec %q not in negotiated list %v", codec, c.cfg.Codecs)})
		return
	}
	slog.Debug("playback codec negotiated", "token", a.token, "codec", codec)

	out := c.newOutput()
	if err := out.Start(a.ctx); err != nil {
		if isAcquisitionErr(err) {
			// The platform refused the output device. Park the attempt;
			// a later Retry from a user action may succeed.
			a.setStatus(StatusBlocked)
			c.metrics.RecordPlaybackAttempt(context.Background(), "blocked")
			slog.Warn("playback blocked: output device unavailable", "token", a.token, "err", err)
			if c.current(a) && c.cb.OnBlocked != nil {
				c.cb.OnBlocked()
			}
			return
		}
		c.fail(a, classifyErr(err))
		return
	}
	a.mu.Lock()
	a.out = out
	a.mu.Unlock()

	dec, err := newDecoder(codec, a.buf, c.cfg.StallTimeout, c.cfg.SampleRate)
	if err != nil {
		c.fail(a, classifyErr(err))
		return
	}

	a.setStatus(StatusPlaying)
	c.metrics.PlaybackReadyDuration.Record(context.Background(), time.Since(a.start).Seconds())
	c.render(a, codec, dec)
}

// render decodes and writes frames until completion, stall, or error.
func (c *Controller) render(a *attempt, codec Codec, dec decoder) {
	for {
		if a.ctx.Err() != nil || !c.current(a) {
			return
		}

		pcm, rate, err := dec.NextFrame()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			c.finish(a)
			return
		case errors.Is(err, errStalled):
			c.metrics.PlaybackStalls.Add(context.Background(), 1)
			if a.retryCount >= 1 {
				c.fail(a, &Error{Kind: KindNetwork, Err: errors.New("source stalled again after reload")})
				return
			}
			if !c.reload(a, codec) {
				return
			}
			return
		default:
			c.fail(a, classifyErr(err))
			return
		}

		nativeSamples := int64(len(pcm) / 2)
		if rate != c.cfg.SampleRate {
			pcm = audio.ResampleMono16(pcm, rate, c.cfg.SampleRate)
		}
		if err := c.writeFrames(a, pcm); err != nil {
			// Write errors after supersession are the expected teardown
			// race; anything else is a device failure.
			if !c.current(a) || a.ctx.Err() != nil {
				return
			}
			c.fail(a, classifyErr(err))
			return
		}
		a.samplesPlayed += nativeSamples
	}
}

// writeFrames splits a PCM block into device-sized frames and renders them.
func (c *Controller) writeFrames(a *attempt, pcm []byte) error {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return &Error{Kind: KindAborted, Err: errors.New("output released")}
	}

	frameBytes := c.cfg.FrameSize * 2
	for off := 0; off < len(pcm); off += frameBytes {
		if a.ctx.Err() != nil || !c.current(a) {
			return &Error{Kind: KindAborted, Err: a.ctx.Err()}
		}
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		err := out.WriteFrame(audio.Frame{
			Data:       pcm[off:end],
			SampleRate: c.cfg.SampleRate,
			Channels:   1,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// reload performs the single stall recovery: re-open the source, skip what
// was already rendered, and resume. Reports false when the attempt cannot
// continue (failure or supersession).
func (c *Controller) reload(a *attempt, codec Codec) bool {
	if !c.current(a) {
		return false
	}
	a.retryCount++
	a.setStatus(StatusStalled)
	slog.Warn("playback stalled, reloading source", "token", a.token, "samples_played", a.samplesPlayed)

	// Drop the dried-up source; the output device stays open.
	a.mu.Lock()
	src := a.src
	a.src = nil
	a.mu.Unlock()
	if src != nil {
		_ = src.Close()
	}

	if !c.openSource(a) {
		return false
	}
	a.buf.WaitReady(c.cfg.MinStartBytes, c.cfg.ReadyTimeout)
	if !c.current(a) {
		return false
	}

	dec, err := newDecoder(codec, a.buf, c.cfg.StallTimeout, c.cfg.SampleRate)
	if err != nil {
		c.fail(a, classifyErr(err))
		return false
	}

	// Re-decode and discard everything already rendered. The stall can land
	// mid-frame, so the boundary frame's unplayed tail is rendered here.
	skip := a.samplesPlayed
	for skip > 0 {
		pcm, rate, err := dec.NextFrame()
		if err != nil {
			c.fail(a, classifyErr(err))
			return false
		}
		n := int64(len(pcm) / 2)
		if n <= skip {
			skip -= n
			continue
		}
		tail := pcm[int(skip)*2:]
		skip = 0
		native := int64(len(tail) / 2)
		if rate != c.cfg.SampleRate {
			tail = audio.ResampleMono16(tail, rate, c.cfg.SampleRate)
		}
		if err := c.writeFrames(a, tail); err != nil {
			if !c.current(a) || a.ctx.Err() != nil {
				return false
			}
			c.fail(a, classifyErr(err))
			return false
		}
		a.samplesPlayed += native
	}

	a.setStatus(StatusPlaying)
	c.render(a, codec, dec)
	return true
}

// finish handles natural end of stream.
func (c *Controller) finish(a *attempt) {
	if !c.current(a) {
		return
	}
	a.setStatus(StatusEnded)
	a.teardown()
	c.metrics.RecordPlaybackAttempt(context.Background(), "ended")
	slog.Debug("playback ended", "token", a.token)
	if c.cb.OnEnded != nil {
		c.cb.OnEnded()
	}
}

// fail handles a fatal attempt error. Aborted errors are swallowed: they are
// the expected result of intentional stops and supersession.
func (c *Controller) fail(a *attempt, err *Error) {
	a.teardown()
	if !c.current(a) || err.Kind == KindAborted {
		return
	}
	a.setStatus(StatusFailed)
	c.metrics.RecordPlaybackAttempt(context.Background(), "failed")
	slog.Error("playback failed", "token", a.token, "kind", err.Kind.String(), "err", err.Err)
	if c.cb.OnError != nil {
		c.cb.OnError(fmt.Sprintf("audio playback failed (%s)", err.Kind))
	}
}

// classifyErr maps an arbitrary error onto the playback taxonomy.
func classifyErr(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindAborted, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

// isAcquisitionErr reports whether err is a device acquisition failure (the
// platform analog of an autoplay rejection).
func isAcquisitionErr(err error) bool {
	return errors.Is(err, audio.ErrDeviceBusy) ||
		errors.Is(err, audio.ErrPermission) ||
		errors.Is(err, audio.ErrNoDevice)
}
