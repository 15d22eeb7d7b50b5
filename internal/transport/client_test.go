package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmbridge/llmbridge/internal/llmerr"
)

func testClient(maxRetries int) *Client {
	return NewClient(Config{
		MaxRetries:    maxRetries,
		Timeout:       5 * time.Second,
		StreamTimeout: 5 * time.Second,
	}, slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)))
}

func TestDoReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer sk-test")

	client := testClient(1)
	body, err := client.Do(context.Background(), &Request{
		Provider: "openai",
		URL:      server.URL,
		Header:   header,
		Body:     []byte(`{}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestDoDecompressesGzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`{"compressed":true}`))
		gz.Close()
	}))
	defer server.Close()

	client := testClient(1)
	body, err := client.Do(context.Background(), &Request{Provider: "openai", URL: server.URL})
	require.NoError(t, err)
	assert.JSONEq(t, `{"compressed":true}`, string(body))
}

func TestDoParsesVendorErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"auth_error"}}`))
	}))
	defer server.Close()

	client := testClient(1)
	_, err := client.Do(context.Background(), &Request{Provider: "openai", URL: server.URL})
	require.Error(t, err)

	var pe *llmerr.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.Equal(t, "invalid api key", pe.Message)
	assert.False(t, pe.Retryable())
}

func TestStreamDeliversChunksToSink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("data: {\"a\":1}\n\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer server.Close()

	var chunks [][]byte
	client := testClient(0)
	body, err := client.Stream(context.Background(), &Request{Provider: "grok", URL: server.URL},
		func(chunk []byte) {
			chunks = append(chunks, append([]byte(nil), chunk...))
		})
	require.NoError(t, err)

	assert.NotEmpty(t, chunks)
	var joined bytes.Buffer
	for _, c := range chunks {
		joined.Write(c)
	}
	assert.Equal(t, joined.Bytes(), body, "accumulated body must match sink-delivered bytes")
	assert.Contains(t, string(body), "[DONE]")
}

func TestStreamRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		w.Write([]byte("data: {\"a\":1}\n\n"))
	}))
	defer server.Close()

	client := testClient(1)
	start := time.Now()
	body, err := client.Stream(context.Background(), &Request{Provider: "openai", URL: server.URL}, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, string(body), `{"a":1}`)
	// Attempt 1 backs off 2^1 seconds before the retry.
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
}

func TestStreamDoesNotRetryFatalStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer server.Close()

	client := testClient(3)
	_, err := client.Stream(context.Background(), &Request{Provider: "openai", URL: server.URL}, nil)
	require.Error(t, err)

	var pe *llmerr.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "fatal statuses must not be retried")
}

func TestStreamRetryBounded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := testClient(2)
	_, err := client.Stream(context.Background(), &Request{Provider: "anthropic", URL: server.URL}, nil)
	require.Error(t, err)

	var pe *llmerr.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, int32(3), calls.Load(), "one initial attempt plus MaxRetries retries")
}

func TestStreamMalformedURLNotRetried(t *testing.T) {
	client := testClient(2)

	start := time.Now()
	_, err := client.Stream(context.Background(), &Request{Provider: "openai", URL: "://not-a-url"}, nil)
	require.Error(t, err)

	var te *llmerr.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, te.Attempts, "malformed requests surface immediately")
	assert.Less(t, time.Since(start), time.Second, "no backoff for permanent failures")
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"url parse failure",
			&llmerr.TransportError{Err: &url.Error{Op: "parse", URL: "://x", Err: errors.New("missing protocol scheme")}},
			false},
		{"unsupported scheme",
			&llmerr.TransportError{Err: &url.Error{Op: "Post", URL: "ftp://x", Err: errors.New("unsupported protocol scheme")}},
			false},
		{"connection refused",
			&llmerr.TransportError{Err: &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}},
			true},
		{"attempt timeout", &llmerr.TransportError{Err: context.DeadlineExceeded}, true},
		{"dropped mid-body", &llmerr.TransportError{Err: io.ErrUnexpectedEOF}, true},
		{"cancelled", &llmerr.TransportError{Err: context.Canceled}, false},
		{"rate limited", &llmerr.ProviderError{Provider: "openai", StatusCode: 429}, true},
		{"server failure", &llmerr.ProviderError{Provider: "openai", StatusCode: 503}, true},
		{"bad request", &llmerr.ProviderError{Provider: "openai", StatusCode: 400}, false},
		{"format mismatch", &llmerr.ResponseFormatError{Provider: "openai", Detail: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}

func TestStreamCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := testClient(2)
	_, err := client.Stream(ctx, &Request{Provider: "openai", URL: server.URL}, nil)
	require.Error(t, err)

	var te *llmerr.TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, te.Err, context.Canceled)
}

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"nested object", `{"error":{"message":"boom"}}`, "boom"},
		{"plain string error", `{"error":"boom"}`, "boom"},
		{"top-level message", `{"message":"boom"}`, "boom"},
		{"unparseable", `<html>boom</html>`, ""},
		{"empty", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractErrorMessage([]byte(tt.body)))
		})
	}
}
