package types

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind buckets a run failure for the fallback policy.
type FailureKind string

const (
	// FailureTransport is a non-success transport status.
	FailureTransport FailureKind = "transport"
	// FailureTimeout means the client deadline elapsed before resolution.
	FailureTimeout FailureKind = "timeout"
	// FailureBackend is a success:false response with an error string.
	FailureBackend FailureKind = "backend"
	// FailureUnknown is anything the classifier cannot bucket.
	FailureUnknown FailureKind = "unknown"
)

// TransportError reports a non-success HTTP exchange. The status line and
// body are surfaced verbatim.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, body)
}

// TimeoutError reports a client-side deadline that fired before the
// provider resolved.
type TimeoutError struct {
	Provider string
}

func (e *TimeoutError) Error() string {
	return e.Provider + " too slow"
}

// BackendError carries an error string reported by the backend itself.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return e.Message
}

// Classify buckets err for the fallback policy. Typed errors win; anything
// else is matched against known provider error phrasings.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return FailureTimeout
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return FailureTransport
	}
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return FailureBackend
	}

	errMsg := strings.ToLower(err.Error())
	if matchesAny(errMsg, timeoutPatterns) {
		return FailureTimeout
	}

	return FailureUnknown
}

// IsTimeout reports whether err classifies as a deadline failure.
func IsTimeout(err error) bool {
	return Classify(err) == FailureTimeout
}

var timeoutPatterns = []string{
	"timeout", "timed out", "deadline exceeded", "context deadline exceeded",
	"too slow",
}

func matchesAny(errMsg string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}
