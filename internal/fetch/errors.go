package fetch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fetch failure for callers that branch on cause.
type ErrorKind string

// Failure kinds surfaced through FetchError.
const (
	KindTransport   ErrorKind = "transport"
	KindRedirect    ErrorKind = "redirect_loop"
	KindHTTPStatus  ErrorKind = "http_status"
	KindRateLimited ErrorKind = "rate_limited"
	KindCanceled    ErrorKind = "canceled"
	KindExhausted   ErrorKind = "exhausted"
)

// FetchError is the error type returned by the client once the retry budget
// is spent or a non-retryable condition is hit.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// errTooManyRedirects marks a redirect chain that exceeded the allowed depth.
var errTooManyRedirects = errors.New("too many redirects")
