package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TransportError is a transient provider failure (timeout, rate limit,
// 5xx). Transport errors are always worth retrying.
type TransportError struct {
	Provider string
	Status   int
	Message  string
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s transport error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s transport error: %s", e.Provider, e.Message)
}

// AuthError is a credential failure. Retrying cannot help.
type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Provider, e.Message)
}

// IsRetryable reports whether a provider error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var transErr *TransportError
	if errors.As(err, &transErr) {
		return true
	}
	// A cancelled parent context is terminal; a per-attempt deadline is a
	// timeout and retryable.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// classifyStatus converts an HTTP status from a provider API into a typed
// error, or nil for statuses the caller should handle itself.
func classifyStatus(provider string, status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Provider: provider, Message: truncate(body, 200)}
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return &TransportError{Provider: provider, Status: status, Message: truncate(body, 200)}
	default:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
