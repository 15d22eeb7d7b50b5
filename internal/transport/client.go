// Package transport performs the HTTP calls against vendor APIs: blocking or
// streaming, with per-chunk sink delivery, transient-failure classification
// and bounded exponential-backoff retry. The transport is the sole owner of
// retry decisions.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/llmbridge/llmbridge/internal/llmerr"
)

const (
	// DefaultMaxRetries is the number of additional attempts after the
	// first failed streaming attempt.
	DefaultMaxRetries = 2

	DefaultTimeout       = 30 * time.Second
	DefaultStreamTimeout = 120 * time.Second

	chunkBufferSize = 8 * 1024
)

// Config tunes the client. Zero values fall back to the defaults above.
type Config struct {
	MaxRetries    int
	Timeout       time.Duration
	StreamTimeout time.Duration
}

// Request is one vendor HTTP call.
type Request struct {
	Provider string
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
}

// Sink receives each raw response chunk as it arrives. It runs on the
// transport's read path: long-blocking work here stalls chunk ingestion.
type Sink func(chunk []byte)

type Client struct {
	http   *http.Client
	logger *slog.Logger
	cfg    Config
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = DefaultStreamTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		// Timeouts are applied per attempt via context, not on the
		// http.Client, so stream retries each get a fresh window.
		http:   &http.Client{},
		logger: logger,
		cfg:    cfg,
	}
}

// Do performs a non-streaming call and returns the decompressed response
// body. No retries: blocking calls surface failures immediately.
func (c *Client) Do(ctx context.Context, req *Request) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.send(attemptCtx, req)
	if err != nil {
		return nil, &llmerr.TransportError{Err: err, Attempts: 1}
	}
	defer resp.Body.Close()

	body, err := c.readAll(resp)
	if err != nil {
		return nil, &llmerr.TransportError{Err: err, Attempts: 1}
	}
	if resp.StatusCode >= 400 {
		return nil, providerError(req.Provider, resp.StatusCode, body)
	}
	return body, nil
}

// Stream performs a streaming call, invoking sink once per received chunk
// while accumulating the full byte sequence, which is returned at completion
// for a conclusive re-parse. Transient failures are retried with 2^attempt
// seconds of backoff; output already delivered to sink is not rolled back.
func (c *Client) Stream(ctx context.Context, req *Request, sink Sink) ([]byte, error) {
	var lastErr error
	partial := false
	attempts := 0

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			c.logger.Warn("retrying stream request",
				"provider", req.Provider,
				"attempt", attempt+1,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, &llmerr.TransportError{Err: ctx.Err(), Attempts: attempts, Partial: partial}
			case <-time.After(backoff):
			}
		}
		attempts++

		body, delivered, err := c.streamOnce(ctx, req, sink)
		if delivered {
			partial = true
		}
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, finalStreamError(err, attempts, partial)
		}
		if ctx.Err() != nil {
			return nil, &llmerr.TransportError{Err: ctx.Err(), Attempts: attempts, Partial: partial}
		}
	}

	return nil, finalStreamError(lastErr, attempts, partial)
}

// finalStreamError rewraps a per-attempt failure with the whole-call attempt
// and partial-delivery facts. Provider errors pass through unchanged.
func finalStreamError(err error, attempts int, partial bool) error {
	var te *llmerr.TransportError
	if errors.As(err, &te) {
		return &llmerr.TransportError{Err: te.Err, Attempts: attempts, Partial: partial}
	}
	return err
}

// streamOnce runs a single streaming attempt. delivered reports whether any
// bytes reached the sink before a failure.
func (c *Client) streamOnce(ctx context.Context, req *Request, sink Sink) (body []byte, delivered bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.StreamTimeout)
	defer cancel()

	resp, err := c.send(attemptCtx, req)
	if err != nil {
		return nil, false, &llmerr.TransportError{Err: err, Attempts: 1}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := c.readAll(resp)
		return nil, false, providerError(req.Provider, resp.StatusCode, errBody)
	}

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, false, &llmerr.TransportError{Err: err, Attempts: 1}
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	var full bytes.Buffer
	buf := make([]byte, chunkBufferSize)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			full.Write(chunk)
			if sink != nil {
				sink(chunk)
				delivered = true
			}
		}
		if readErr == io.EOF {
			return full.Bytes(), delivered, nil
		}
		if readErr != nil {
			return nil, delivered, &llmerr.TransportError{Err: readErr, Attempts: 1}
		}
	}
}

func (c *Client) send(ctx context.Context, req *Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	return c.http.Do(httpReq)
}

// readAll drains and decompresses a response body.
func (c *Client) readAll(resp *http.Response) ([]byte, error) {
	reader, err := decompressReader(resp)
	if err != nil {
		return nil, err
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}
	return io.ReadAll(reader)
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// providerError builds a ProviderError, extracting the vendor's error
// message from the body when it is parseable.
func providerError(provider string, status int, body []byte) error {
	return &llmerr.ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    extractErrorMessage(body),
	}
}

// extractErrorMessage probes the common vendor error envelopes:
// {"error":{"message":...}}, {"error":"..."} and {"message":...}.
func extractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	if len(envelope.Error) == 0 {
		return ""
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	var plain string
	if err := json.Unmarshal(envelope.Error, &plain); err == nil {
		return plain
	}
	return ""
}

// retryable classifies a single-attempt failure as transient or fatal.
// Transient means a genuine connection-level failure or timeout; malformed
// requests (URL parse failures, unsupported schemes, request-build errors)
// surface immediately, since repeating them cannot change the outcome.
func retryable(err error) bool {
	var pe *llmerr.ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var te *llmerr.TransportError
	if !errors.As(err, &te) {
		return false
	}
	inner := te.Err
	if errors.Is(inner, context.Canceled) {
		return false
	}
	if errors.Is(inner, context.DeadlineExceeded) || errors.Is(inner, io.ErrUnexpectedEOF) {
		return true
	}
	// Dial failures, resets and dropped connections wrap a *net.OpError.
	var opErr *net.OpError
	if errors.As(inner, &opErr) {
		return true
	}
	var ne net.Error
	return errors.As(inner, &ne) && ne.Timeout()
}
