package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// TransientError marks an error as safe to retry. Provider clients wrap
// throttling and server-side failures in it so the retry loop can tell them
// apart from permanent rejections like invalid recipients or bad credentials.
type TransientError struct {
	Err        error
	StatusCode int
	// RetryAfter, when set, overrides the computed backoff for the next
	// attempt. Populated from the provider's Retry-After header.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as retryable. statusCode may be 0 for
// transport-level failures that never produced an HTTP response.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err is retryable: an explicit TransientError
// anywhere in the chain, a network timeout, or a connection-level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped transport errors from net/http lose their type, so fall back
	// to matching the usual failure strings.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// retryAfterOf extracts a provider-requested delay from the error chain.
func retryAfterOf(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// IsTransientHTTPStatus reports whether an HTTP status is worth retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
