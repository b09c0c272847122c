package batch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Errors returned by the fetcher.
var (
	// ErrUnsupportedMethod is returned for a method other than GET or POST.
	// It fails the whole batch before any request is issued.
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrBatchInProgress is returned when FetchAll is called on a fetcher
	// that is already running a batch.
	ErrBatchInProgress = errors.New("batch already in progress on this fetcher")

	// ErrUnexpectedStatus wraps responses whose status is outside the success set.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// ErrorKind classifies why a request ended as a Failure.
type ErrorKind string

const (
	// KindTransport means the call did not complete (refused, timeout, DNS).
	KindTransport ErrorKind = "transport"

	// KindParse means a success status carried a body that is not JSON.
	KindParse ErrorKind = "parse"

	// KindApplication means the status is outside the success set.
	KindApplication ErrorKind = "application"
)

// FetchError is the error attached to a Failure.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s error for %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s error (status %d) for %s: %v", e.Kind, e.StatusCode, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// transportReason labels a transport error for metrics and logs.
func transportReason(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}
	return "other"
}

// shouldRetry reports whether resubmitting the same descriptor may succeed.
func shouldRetry(kind ErrorKind, statusCode int) bool {
	switch kind {
	case KindTransport:
		return true
	case KindApplication:
		// 5xx (including 520) and 429 are transient; other 4xx are not
		return statusCode >= 500 || statusCode == http.StatusTooManyRequests
	default:
		// the same body would fail to decode again
		return false
	}
}
