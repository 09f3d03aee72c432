package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProviderError wraps a backend failure with enough context for the
// iteration controllers to classify it.
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	Err        error
}

// Error returns the formatted message.
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the error is a deadline/timeout failure. The
// controllers count these toward the consecutive-timeout circuit breaker.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}

// isRetryable classifies transient failures worth retrying within one
// Complete call: rate limits, server errors, connection resets. Context
// cancellation and deadline expiry are never retried — the caller's budget
// is spent.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.StatusCode == 429:
			return true
		case pe.StatusCode >= 500:
			return true
		case pe.StatusCode >= 400:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "overloaded", "connection reset", "connection refused",
		"temporarily unavailable", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
