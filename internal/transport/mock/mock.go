// Package mock provides a scriptable test double for the transport.Client
// interface.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/sonantic-labs/parley/internal/transport"
)

// Client is a mock implementation of transport.Client. Configure the result
// fields, then inspect the recorded calls.
type Client struct {
	mu sync.Mutex

	// SessionID is returned from CreateSession when CreateSessionErr is nil.
	SessionID string

	// CreateSessionErr, if non-nil, is returned from CreateSession. Set
	// CreateSessionFailures to fail only the first N calls.
	CreateSessionErr      error
	CreateSessionFailures int

	// Reply is returned from SendUtterance when SendErr is nil.
	Reply transport.Reply

	// SendErr, if non-nil, is returned from every SendUtterance call.
	SendErr error

	// SendFn, if non-nil, overrides Reply/SendErr entirely.
	SendFn func(ctx context.Context, req transport.SendRequest) (transport.Reply, error)

	// Audio is the body returned from FetchAudio and OpenAudio.
	Audio []byte

	// FetchErr, if non-nil, is returned from FetchAudio and OpenAudio.
	FetchErr error

	createCalls int
	sendCalls   []transport.SendRequest
	fetchCalls  []string
}

// CreateSession returns the scripted session ID or error.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.CreateSessionErr != nil {
		if c.CreateSessionFailures == 0 || c.createCalls <= c.CreateSessionFailures {
			return "", c.CreateSessionErr
		}
	}
	return c.SessionID, nil
}

// SendUtterance records the request and returns the scripted reply.
func (c *Client) SendUtterance(ctx context.Context, req transport.SendRequest) (transport.Reply, error) {
	c.mu.Lock()
	c.sendCalls = append(c.sendCalls, req)
	fn := c.SendFn
	reply, err := c.Reply, c.SendErr
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return transport.Reply{}, err
	}
	return reply, nil
}

// FetchAudio records the reference and returns the scripted audio.
func (c *Client) FetchAudio(ctx context.Context, reference string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchCalls = append(c.fetchCalls, reference)
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}
	out := make([]byte, len(c.Audio))
	copy(out, c.Audio)
	return out, nil
}

// OpenAudio returns a reader over the scripted audio.
func (c *Client) OpenAudio(ctx context.Context, reference string) (io.ReadCloser, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchCalls = append(c.fetchCalls, reference)
	if c.FetchErr != nil {
		return nil, 0, c.FetchErr
	}
	return io.NopCloser(bytes.NewReader(c.Audio)), int64(len(c.Audio)), nil
}

// CreateCalls returns the number of CreateSession invocations.
func (c *Client) CreateCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createCalls
}

// SendCalls returns a copy of all recorded SendUtterance requests.
func (c *Client) SendCalls() []transport.SendRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.SendRequest, len(c.sendCalls))
	copy(out, c.sendCalls)
	return out
}

// FetchCalls returns a copy of all recorded fetch references.
func (c *Client) FetchCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.fetchCalls))
	copy(out, c.fetchCalls)
	return out
}
