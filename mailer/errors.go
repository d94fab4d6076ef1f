package mailer

import (
	"fmt"

	"github.com/cadencehq/listsync/errors"
)

// RequestError is returned when the API answers with a 4xx/5xx status.
// The original request coordinates and the response body are attached
// for diagnostics; callers decide whether the run can continue.
type RequestError struct {
	Method   string
	Path     string
	HTTPCode int
	Body     []byte
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("mailer request failed: %s %s -> HTTP %d", e.Method, e.Path, e.HTTPCode)
}

// NetworkError is returned when no HTTP response was received at all
// (DNS failure, connection refused, timeout). Distinguished from
// RequestError so callers can decide a blind retry is safe.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("mailer unreachable: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRequestError reports whether err is or wraps a *RequestError,
// returning it when so.
func IsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

// IsNetworkError reports whether err is or wraps a *NetworkError.
func IsNetworkError(err error) (*NetworkError, bool) {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a RequestError with HTTP 404.
// A PATCH unsubscribe against a member the remote has never seen
// returns 404; callers treat that as already-unsubscribed.
func IsNotFound(err error) bool {
	reqErr, ok := IsRequestError(err)
	return ok && reqErr.HTTPCode == 404
}
