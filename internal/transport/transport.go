// Package transport defines the client contract for the remote reasoning
// service and provides its HTTP implementation.
//
// The remote service is an opaque collaborator: it issues session
// identifiers, accepts captured utterance audio, and answers with reply text
// plus a reference to synthesized speech audio. Errors are classified at the
// point of occurrence ([Error] with an [ErrorKind]) so the session
// controller can apply the right recovery policy — rate limits start a
// cooldown, network failures surface transiently, and so on.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrorKind classifies a transport failure.
type ErrorKind int

const (
	// KindNetwork covers connection failures, DNS errors, and timeouts.
	KindNetwork ErrorKind = iota

	// KindStatus covers non-2xx responses other than rate limits.
	KindStatus

	// KindRateLimited covers explicit throttling signals (HTTP 429).
	KindRateLimited

	// KindDecode covers malformed response bodies.
	KindDecode
)

// String returns the human-readable name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindStatus:
		return "status"
	case KindRateLimited:
		return "rate_limited"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure.
type Error struct {
	// Kind is the failure classification.
	Kind ErrorKind

	// StatusCode is the HTTP status, when one was received.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindRateLimited
}

// SendRequest carries one finalized utterance to the remote service.
type SendRequest struct {
	// SessionID is the identifier issued by CreateSession.
	SessionID string

	// UtteranceID is the locally generated correlation identifier.
	UtteranceID string

	// Audio is the assembled utterance payload.
	Audio []byte

	// Duration is the audio duration, sent as a diagnostic hint.
	Duration time.Duration
}

// Reply is the remote service's answer to one utterance.
type Reply struct {
	// Text is the reply transcript.
	Text string

	// AudioReference locates the synthesized speech audio. It may be an
	// absolute URL or a path relative to the service base URL.
	AudioReference string
}

// Client is the interface consumed by the session controller. The HTTP
// implementation is [HTTPClient]; tests use the mock subpackage.
type Client interface {
	// CreateSession asks the service for a new session identifier.
	CreateSession(ctx context.Context) (string, error)

	// SendUtterance uploads one utterance and returns the service's reply.
	SendUtterance(ctx context.Context, req SendRequest) (Reply, error)

	// FetchAudio downloads the full audio body behind a reference. Used for
	// references served from a different host than the service itself,
	// where streaming by reference is not possible.
	FetchAudio(ctx context.Context, reference string) ([]byte, error)

	// OpenAudio resolves a reference into a readable audio stream. Same-host
	// references are streamed directly; foreign-host references are fetched
	// in full first. The second return value is the content length, or -1
	// when unknown. The caller owns the returned reader.
	OpenAudio(ctx context.Context, reference string) (io.ReadCloser, int64, error)
}
