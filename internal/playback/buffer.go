package playback

import (
	"errors"
	"io"
	"sync"
	"time"
)

// errStalled is returned by the buffer when no new data arrived within the
// stall timeout while the source was still open. The controller maps it to
// the stall-recovery path.
var errStalled = errors.New("playback: source stalled")

// streamBuffer accumulates bytes from a network source on one goroutine
// while a decoder consumes them on another. It exposes the buffering
// readiness signals the controller needs: how much is buffered, whether the
// source is done, and blocking reads bounded by a stall timeout.
type streamBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	data    []byte
	pos     int
	done    bool
	fillErr error
}

func newStreamBuffer() *streamBuffer {
	b := &streamBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// fill reads r to completion, appending to the buffer. It is run on its own
// goroutine; any read error is surfaced to the consumer after the buffered
// bytes are drained.
func (b *streamBuffer) fill(r io.Reader) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			b.mu.Lock()
			b.data = append(b.data, chunk[:n]...)
			b.cond.Broadcast()
			b.mu.Unlock()
		}
		if err != nil {
			b.mu.Lock()
			b.done = true
			if err != io.EOF {
				b.fillErr = err
			}
			b.cond.Broadcast()
			b.mu.Unlock()
			return
		}
	}
}

// abort marks the buffer done so pending reads unblock. Used on teardown.
func (b *streamBuffer) abort(err error) {
	b.mu.Lock()
	b.done = true
	if b.fillErr == nil {
		b.fillErr = err
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Buffered returns the number of unconsumed bytes currently held.
func (b *streamBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.pos
}

// Done reports whether the source has finished (successfully or not).
func (b *streamBuffer) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// WaitReady blocks until at least minBytes are buffered, the source is done,
// or the timeout elapses. It reports whether the readiness condition was met
// in full; false means the caller must decide between degrading and failing.
func (b *streamBuffer) WaitReady(minBytes int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() { b.cond.Broadcast() })
	defer timer.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if len(b.data)-b.pos >= minBytes || b.done {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		b.cond.Wait()
	}
}

// ReadFull copies exactly len(p) bytes into p, blocking until enough data is
// available. Returns io.EOF (with n possibly > 0) when the source is done
// and drained, errStalled when no progress happens within stallTimeout while
// the source is still open, or the source's own error.
func (b *streamBuffer) ReadFull(p []byte, stallTimeout time.Duration) (int, error) {
	read := 0
	for read < len(p) {
		n, err := b.readSome(p[read:], stallTimeout)
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

// readSome copies up to len(p) available bytes, blocking until at least one
// byte is available or the stall timeout elapses.
func (b *streamBuffer) readSome(p []byte, stallTimeout time.Duration) (int, error) {
	deadline := time.Now().Add(stallTimeout)
	timer := time.AfterFunc(stallTimeout, func() { b.cond.Broadcast() })
	defer timer.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.data)-b.pos == 0 {
		if b.done {
			if b.fillErr != nil {
				return 0, b.fillErr
			}
			return 0, io.EOF
		}
		if time.Now().After(deadline) {
			return 0, errStalled
		}
		b.cond.Wait()
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

// Peek returns up to n buffered bytes without consuming them, blocking until
// they are available, the source is done, or the timeout elapses.
func (b *streamBuffer) Peek(n int, timeout time.Duration) []byte {
	b.WaitReady(n, timeout)
	b.mu.Lock()
	defer b.mu.Unlock()
	end := b.pos + n
	if end > len(b.data) {
		end = len(b.data)
	}
	out := make([]byte, end-b.pos)
	copy(out, b.data[b.pos:end])
	return out
}

// Skip consumes and discards n bytes, blocking as needed. Used after a
// reload to reposition the stream at the first unplayed byte.
func (b *streamBuffer) Skip(n int, stallTimeout time.Duration) error {
	scratch := make([]byte, 32*1024)
	for n > 0 {
		chunk := len(scratch)
		if n < chunk {
			chunk = n
		}
		read, err := b.ReadFull(scratch[:chunk], stallTimeout)
		n -= read
		if err != nil {
			return err
		}
	}
	return nil
}
