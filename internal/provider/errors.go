package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSyncTokenInvalid signals that the provider rejected a stored sync
// token; the caller has to fall back to exactly one full resync.
var ErrSyncTokenInvalid = errors.New("sync token invalid")

type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindNotFound    ErrorKind = "not_found"
	KindConcurrency ErrorKind = "concurrency"
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindInvalid     ErrorKind = "invalid"
)

// ProviderError wraps a backend failure with a machine-readable kind
// and whether a retry can help.
type ProviderError struct {
	Provider  string
	Kind      ErrorKind
	Status    int
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetryableStatus reports whether an HTTP status is worth retrying:
// timeouts, throttling, and server-side failures. Other 4xx responses
// are terminal.
func RetryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// StatusError builds a ProviderError from an HTTP status.
func StatusError(providerName string, status int, err error) *ProviderError {
	kind := KindInvalid
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusPreconditionFailed:
		kind = KindConcurrency
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestTimeout:
		kind = KindTimeout
	case status >= 500:
		kind = KindUnavailable
	}
	return &ProviderError{
		Provider:  providerName,
		Kind:      kind,
		Status:    status,
		Retryable: RetryableStatus(status),
		Err:       err,
	}
}
