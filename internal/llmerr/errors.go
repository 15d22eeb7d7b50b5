// Package llmerr defines the error taxonomy shared by the transport,
// adapters and engine. Classification (retryable or not) lives with the
// error types; the transport layer is the sole owner of retry decisions.
package llmerr

import "fmt"

// ConfigurationError reports missing or unusable credentials for a provider.
// Fatal, surfaced immediately, never retried.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for provider %q: %s", e.Provider, e.Reason)
}

// ProviderError is an HTTP error status returned by a vendor, with the
// vendor's error message when the body was parseable.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider %s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s returned status %d", e.Provider, e.StatusCode)
}

// Retryable reports whether the status indicates a transient condition
// (rate limiting or a server-side failure).
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// TransportError is a connection-level failure. Partial records whether any
// bytes had already been delivered to the caller's sink before the failure,
// since partially-streamed output has observable side effects that cannot be
// silently discarded.
type TransportError struct {
	Err      error
	Attempts int
	Partial  bool
}

func (e *TransportError) Error() string {
	if e.Partial {
		return fmt.Sprintf("transport failed after %d attempt(s) with partial output delivered: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("transport failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResponseFormatError reports an unparseable or structurally unrecognized
// vendor response. Never retried: retrying cannot fix a format mismatch.
type ResponseFormatError struct {
	Provider string
	Detail   string
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("unrecognized %s response: %s", e.Provider, e.Detail)
}

// MissingContinuationStateError reports a continuation attempted under the
// stateful strategy without a token. Fatal precondition violation.
type MissingContinuationStateError struct {
	Provider string
}

func (e *MissingContinuationStateError) Error() string {
	return fmt.Sprintf("continuation for provider %s requires a token from the prior turn", e.Provider)
}
