package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sonantic-labs/parley/internal/observe"
)

const (
	sessionsPath  = "/v1/sessions"
	utterancePath = "/v1/sessions/%s/utterances"

	// utteranceContentType is the chunked Opus container produced by the
	// recorder: 2-byte big-endian length prefix per packet.
	utteranceContentType = "audio/x-chunked-opus"

	defaultRequestTimeout = 30 * time.Second

	// maxAudioFetchBytes caps FetchAudio downloads so a misbehaving
	// reference cannot exhaust memory.
	maxAudioFetchBytes = 32 << 20
)

// HTTPClient implements [Client] against the reasoning service's REST API.
// It is safe for concurrent use.
type HTTPClient struct {
	base   *url.URL
	client *http.Client
}

// Option is a functional option for [NewHTTPClient].
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client (e.g., for tests or
// custom transports).
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.client = c }
}

// WithTimeout sets the per-request timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) { h.client.Timeout = d }
}

// NewHTTPClient creates a client for the service at baseURL
// (e.g., "https://api.example.com").
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse base url %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("transport: base url %q must be absolute", baseURL)
	}
	h := &HTTPClient{
		base:   base,
		client: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// BaseURL returns the configured service base URL.
func (h *HTTPClient) BaseURL() *url.URL {
	u := *h.base
	return &u
}

// CreateSession asks the service for a new session identifier.
func (h *HTTPClient) CreateSession(ctx context.Context) (string, error) {
	ctx, span := observe.StartSpan(ctx, "transport.CreateSession")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base.JoinPath(sessionsPath).String(), nil)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Err: err}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &Error{Kind: KindDecode, Err: fmt.Errorf("decode session response: %w", err)}
	}
	if body.SessionID == "" {
		return "", &Error{Kind: KindDecode, Err: errors.New("empty session_id in response")}
	}
	span.SetAttributes(attribute.String("session_id", body.SessionID))
	return body.SessionID, nil
}

// SendUtterance uploads one utterance payload and decodes the reply.
func (h *HTTPClient) SendUtterance(ctx context.Context, sr SendRequest) (Reply, error) {
	ctx, span := observe.StartSpan(ctx, "transport.SendUtterance")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sr.SessionID),
		attribute.String("utterance_id", sr.UtteranceID),
		attribute.Int("bytes", len(sr.Audio)),
	)

	u := h.base.JoinPath(fmt.Sprintf(utterancePath, url.PathEscape(sr.SessionID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(sr.Audio))
	if err != nil {
		return Reply{}, &Error{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", utteranceContentType)
	if sr.UtteranceID != "" {
		req.Header.Set("X-Utterance-ID", sr.UtteranceID)
	}
	if sr.Duration > 0 {
		req.Header.Set("X-Audio-Duration-Ms", strconv.FormatInt(sr.Duration.Milliseconds(), 10))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, err
	}

	var body struct {
		Text     string `json:"text"`
		AudioURL string `json:"audio_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Reply{}, &Error{Kind: KindDecode, Err: fmt.Errorf("decode utterance response: %w", err)}
	}
	return Reply{Text: body.Text, AudioReference: body.AudioURL}, nil
}

// FetchAudio downloads the full audio body behind reference.
func (h *HTTPClient) FetchAudio(ctx context.Context, reference string) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "transport.FetchAudio")
	defer span.End()

	u, err := h.resolve(reference)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioFetchBytes))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("read audio body: %w", err)}
	}
	span.SetAttributes(attribute.Int("bytes", len(data)))
	return data, nil
}

// OpenAudio resolves reference into a readable stream. References on the
// service's own host are streamed directly; references on a foreign host are
// fetched in full first, which avoids holding a long-lived connection to a
// third party during playback.
func (h *HTTPClient) OpenAudio(ctx context.Context, reference string) (io.ReadCloser, int64, error) {
	u, err := h.resolve(reference)
	if err != nil {
		return nil, 0, err
	}

	if u.Host != h.base.Host {
		data, err := h.FetchAudio(ctx, reference)
		if err != nil {
			return nil, 0, err
		}
		return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, &Error{Kind: KindNetwork, Err: err}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, 0, &Error{Kind: KindNetwork, Err: err}
	}
	if err := classifyStatus(resp); err != nil {
		resp.Body.Close()
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

// Ping probes the service base URL for reachability. Any HTTP response,
// including an error status, proves the service is reachable; only a
// network-level failure fails the probe. Used by the readiness endpoint.
func (h *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base.String(), nil)
	if err != nil {
		return fmt.Errorf("transport: ping: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: ping: %w", err)
	}
	resp.Body.Close()
	return nil
}

// resolve turns a possibly-relative reference into an absolute URL against
// the service base.
func (h *HTTPClient) resolve(reference string) (*url.URL, error) {
	ref, err := url.Parse(reference)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Err: fmt.Errorf("parse audio reference %q: %w", reference, err)}
	}
	return h.base.ResolveReference(ref), nil
}

// classifyStatus maps a non-2xx response onto the error taxonomy.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	// Read a bounded slice of the body for diagnostics.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	cause := fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(snippet))

	if resp.StatusCode == http.StatusTooManyRequests {
		return &Error{Kind: KindRateLimited, StatusCode: resp.StatusCode, Err: cause}
	}
	return &Error{Kind: KindStatus, StatusCode: resp.StatusCode, Err: cause}
}
