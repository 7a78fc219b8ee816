package playback

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

func TestStreamBufferReadFull(t *testing.T) {
	b := newStreamBuffer()
	pr, pw := io.Pipe()
	go b.fill(pr)

	go func() {
		pw.Write([]byte("hel"))
		time.Sleep(10 * time.Millisecond)
		pw.Write([]byte("lo world"))
		pw.Close()
	}()

	got := make([]byte, 11)
	n, err := b.ReadFull(got, time.Second)
	if err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if n != 11 || string(got) != "hello world" {
		t.Errorf("ReadFull() = %d %q, want 11 %q", n, got, "hello world")
	}

	if _, err := b.ReadFull(make([]byte, 1), time.Second); err != io.EOF {
		t.Errorf("ReadFull() after drain error = %v, want io.EOF", err)
	}
}

func TestStreamBufferPartialThenEOF(t *testing.T) {
	b := newStreamBuffer()
	go b.fill(bytes.NewReader([]byte("abc")))

	got := make([]byte, 10)
	n, err := b.ReadFull(got, time.Second)
	if err != io.EOF {
		t.Errorf("ReadFull() error = %v, want io.EOF", err)
	}
	if n != 3 || string(got[:n]) != "abc" {
		t.Errorf("ReadFull() = %d %q, want 3 %q", n, got[:n], "abc")
	}
}

func TestStreamBufferStall(t *testing.T) {
	b := newStreamBuffer()
	pr, pw := io.Pipe()
	go b.fill(pr)
	defer pw.Close()

	pw.Write([]byte("ab"))

	got := make([]byte, 5)
	n, err := b.ReadFull(got, 30*time.Millisecond)
	if !errors.Is(err, errStalled) {
		t.Errorf("ReadFull() error = %v, want errStalled", err)
	}
	if n != 2 {
		t.Errorf("ReadFull() n = %d, want 2", n)
	}
}

func TestStreamBufferWaitReady(t *testing.T) {
	b := newStreamBuffer()
	pr, pw := io.Pipe()
	go b.fill(pr)
	defer pw.Close()

	if b.WaitReady(4, 30*time.Millisecond) {
		t.Error("WaitReady() = true on empty open buffer, want false")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		pw.Write([]byte("1234"))
	}()
	if !b.WaitReady(4, time.Second) {
		t.Error("WaitReady() = false after data arrived, want true")
	}
}

func TestStreamBufferWaitReadyDoneShort(t *testing.T) {
	// A completed source satisfies readiness even below the byte target.
	b := newStreamBuffer()
	go b.fill(bytes.NewReader([]byte("xy")))

	if !b.WaitReady(1<<20, time.Second) {
		t.Error("WaitReady() = false on finished short source, want true")
	}
}

func TestStreamBufferPeekDoesNotConsume(t *testing.T) {
	b := newStreamBuffer()
	go b.fill(bytes.NewReader([]byte("OggSrest")))

	head := b.Peek(4, time.Second)
	if string(head) != "OggS" {
		t.Fatalf("Peek() = %q, want %q", head, "OggS")
	}

	all := make([]byte, 8)
	if _, err := b.ReadFull(all, time.Second); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(all) != "OggSrest" {
		t.Errorf("ReadFull() after Peek = %q, want %q", all, "OggSrest")
	}
}

func TestStreamBufferSkip(t *testing.T) {
	b := newStreamBuffer()
	go b.fill(bytes.NewReader([]byte("0123456789")))

	if err := b.Skip(6, time.Second); err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	rest := make([]byte, 4)
	if _, err := b.ReadFull(rest, time.Second); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(rest) != "6789" {
		t.Errorf("remaining after Skip = %q, want %q", rest, "6789")
	}
}

func TestStreamBufferAbort(t *testing.T) {
	b := newStreamBuffer()
	pr, pw := io.Pipe()
	go b.fill(pr)
	defer pw.Close()

	sentinel := errors.New("torn down")
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.abort(sentinel)
	}()

	_, err := b.ReadFull(make([]byte, 4), time.Second)
	if !errors.Is(err, sentinel) {
		t.Errorf("ReadFull() after abort error = %v, want sentinel", err)
	}
}
