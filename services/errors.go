package services

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey means no upstream credential is configured. It is
	// returned before any network I/O and is never worth retrying.
	ErrMissingAPIKey = errors.New("OPENROUTER_API_KEY not configured")

	// ErrEmptyResponse means the upstream answered 2xx without usable text
	ErrEmptyResponse = errors.New("upstream returned an empty response")

	// ErrMalformedResponse means the upstream answered 2xx with a body that
	// is not a chat completion
	ErrMalformedResponse = errors.New("upstream returned a malformed response")

	// ErrUpstreamTimeout means an attempt exceeded the configured timeout
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnavailable means the circuit breaker is rejecting calls
	ErrUpstreamUnavailable = errors.New("upstream temporarily unavailable")
)

// UpstreamError is a non-2xx answer from the chat-completion endpoint.
// Body is for server-side diagnostics only.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("OpenRouter API error (%d): %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is a gateway-level failure that may
// succeed on another attempt
func (e *UpstreamError) Transient() bool {
	switch e.StatusCode {
	case 502, 503, 504:
		return true
	}
	return false
}
