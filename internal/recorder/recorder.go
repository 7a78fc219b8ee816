// Package recorder implements the utterance recorder: it owns the encoder
// that turns raw capture frames into a compressed chunked stream, starts and
// stops on VAD events, and assembles the final payload sent to the remote
// service.
//
// Utterances below a minimum duration or payload size are discarded rather
// than sent — silence and noise-only captures never reach the network.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonantic-labs/parley/pkg/audio"
)

// ErrDiscarded is the sentinel wrapped by [DiscardError]. Use
// errors.Is(err, ErrDiscarded) to distinguish a dropped utterance from a
// real failure; a discard is expected behaviour, not an error condition.
var ErrDiscarded = errors.New("recorder: utterance discarded")

// ErrNotRecording is returned by End when no recording is in progress.
var ErrNotRecording = errors.New("recorder: not recording")

// DiscardReason classifies why an utterance was dropped.
type DiscardReason string

const (
	// DiscardTooShort means the accumulated audio duration was below the
	// configured minimum.
	DiscardTooShort DiscardReason = "too short"

	// DiscardTooSmall means the assembled payload was below the configured
	// minimum byte size.
	DiscardTooSmall DiscardReason = "too small"
)

// DiscardError reports a dropped utterance. It unwraps to [ErrDiscarded].
type DiscardError struct {
	Reason   DiscardReason
	Duration time.Duration
	Bytes    int
}

func (e *DiscardError) Error() string {
	return fmt.Sprintf("recorder: utterance discarded (%s): %v of audio, %d bytes", e.Reason, e.Duration, e.Bytes)
}

func (e *DiscardError) Unwrap() error { return ErrDiscarded }

// Encoder compresses one PCM frame into one packet. Implementations are not
// required to be safe for concurrent use; the recorder serialises calls.
type Encoder interface {
	// Encode compresses one frame of little-endian int16 PCM and returns
	// the encoded packet.
	Encode(pcm []byte) ([]byte, error)
}

// Payload is a finalized utterance ready for transport. The Data field is a
// chunked container: each encoded packet is prefixed with a 2-byte
// big-endian length, in capture order.
type Payload struct {
	// ID is a locally generated correlation identifier attached to the
	// transport request and log lines.
	ID string

	// Data is the assembled chunk container.
	Data []byte

	// Duration is the total audio duration of the utterance.
	Duration time.Duration

	// Chunks is the number of encoded packets in Data.
	Chunks int

	// StartedAt is the wall-clock time recording began.
	StartedAt time.Time
}

// Config holds the recorder's tuning values.
type Config struct {
	// MinDuration is the minimum utterance length; shorter recordings are
	// discarded. Typical: 500 ms.
	MinDuration time.Duration

	// MinBytes is the minimum assembled payload size; smaller payloads are
	// discarded regardless of duration.
	MinBytes int
}

// Recorder accumulates encoded chunks for one utterance at a time.
// All methods are safe for concurrent use.
type Recorder struct {
	enc Encoder
	cfg Config

	mu        sync.Mutex
	recording bool
	chunks    [][]byte
	total     int
	elapsed   time.Duration
	startedAt time.Time

	// now is the clock function, replaceable in tests.
	now func() time.Time
}

// New creates a Recorder that compresses frames through enc.
func New(enc Encoder, cfg Config) *Recorder {
	return &Recorder{
		enc: enc,
		cfg: cfg,
		now: time.Now,
	}
}

// Begin starts a new recording. It is a no-op when already recording.
func (r *Recorder) Begin() {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return
	}
	r.recording = true
	r.chunks = r.chunks[:0]
	r.total = 0
	r.elapsed = 0
	r.startedAt = r.now()
	r.mu.Unlock()
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Elapsed returns the audio duration accumulated so far.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Append encodes one capture frame and adds the packet to the current
// utterance. Frames arriving while not recording are ignored.
func (r *Recorder) Append(frame audio.Frame) error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	packet, err := r.enc.Encode(frame.Data)
	if err != nil {
		return fmt.Errorf("recorder: encode frame: %w", err)
	}
	if len(packet) > 0xFFFF {
		return fmt.Errorf("recorder: encoded packet too large: %d bytes", len(packet))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		// End or Discard raced with the encode; drop the packet.
		return nil
	}
	r.chunks = append(r.chunks, packet)
	r.total += len(packet)
	r.elapsed += frame.Duration()
	return nil
}

// End finalizes the current recording. When the utterance meets the minimum
// duration and size thresholds, End returns the assembled payload and
// transfers ownership of it to the caller. Otherwise it returns a
// [DiscardError].
func (r *Recorder) End() (Payload, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return Payload{}, ErrNotRecording
	}
	r.recording = false
	chunks := r.chunks
	r.chunks = nil
	total := r.total
	elapsed := r.elapsed
	startedAt := r.startedAt
	r.mu.Unlock()

	if elapsed < r.cfg.MinDuration {
		return Payload{}, &DiscardError{Reason: DiscardTooShort, Duration: elapsed, Bytes: total}
	}

	// 2 bytes of length prefix per chunk.
	data := make([]byte, 0, total+2*len(chunks))
	for _, c := range chunks {
		data = append(data, byte(len(c)>>8), byte(len(c)))
		data = append(data, c...)
	}
	if len(data) < r.cfg.MinBytes {
		return Payload{}, &DiscardError{Reason: DiscardTooSmall, Duration: elapsed, Bytes: len(data)}
	}

	return Payload{
		ID:        uuid.NewString(),
		Data:      data,
		Duration:  elapsed,
		Chunks:    len(chunks),
		StartedAt: startedAt,
	}, nil
}

// Discard drops any in-progress recording without producing a payload.
// Used on mute, where the buffered audio must not survive the session.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.chunks = nil
	r.total = 0
	r.elapsed = 0
}
