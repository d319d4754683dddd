package resource

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	// ErrCode and Message come from an {"code": ..., "error": ...} body when
	// the server sends one.
	ErrCode string
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	if e.ErrCode != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.Code, e.ErrCode, msg)
	}
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.URL, e.Code, msg)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsTerminal reports whether a failed request should not be retried:
// client errors other than 408 and 429.
func IsTerminal(err error) bool {
	code := StatusCode(err)
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}
