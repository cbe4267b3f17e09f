// Package resilience wraps upstream calls with a circuit breaker, a timeout,
// retry with backoff, and a fallback for degraded operation.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies an upstream failure for retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimit
	KindServerError
	KindTimeout
	KindAuth
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindServerError:
		return "server_error"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// UpstreamError is a classified failure from the LLM backend. RetryAfter is
// the backend's requested wait, when it sent one.
type UpstreamError struct {
	Kind       Kind
	Status     int
	Msg        string
	RetryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s (status %d): %s", e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Msg)
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindServerError
	case status == 401 || status == 403:
		return KindAuth
	case status >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// Fatal reports whether the error is a caller mistake (bad credentials,
// rejected request shape) that neither retrying nor degrading can fix.
// Fatal errors abort the whole run instead of failing one unit.
func Fatal(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind == KindAuth || ue.Kind == KindValidation
	}
	return false
}

// Retryable reports whether the error belongs to a transient failure class.
// Auth and validation errors are never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		switch ue.Kind {
		case KindRateLimit, KindServerError, KindTimeout:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
