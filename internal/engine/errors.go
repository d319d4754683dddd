package engine

import (
	"errors"
	"fmt"
)

// SyncError is an error surfaced by the engine to notices and logs.
//
// Sync errors never stop a session. They carry enough context to tell
// which row or which page a failure belongs to.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// Resource is the collection the session syncs.
	Resource string

	// Handle identifies the affected row, if any.
	Handle string

	// Version is the pager load version, for fetch errors.
	Version int

	// Err is the underlying cause.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeUnknownRow indicates an event named a handle the grid does not render.
	ErrCodeUnknownRow SyncErrorCode = "UNKNOWN_ROW"

	// ErrCodeFetchFailed indicates a keyset page request failed.
	ErrCodeFetchFailed SyncErrorCode = "FETCH_FAILED"

	// ErrCodeStale indicates a page arrived for a superseded search.
	ErrCodeStale SyncErrorCode = "STALE"

	// ErrCodePaginationStopped indicates the walk was ended early.
	ErrCodePaginationStopped SyncErrorCode = "PAGINATION_STOPPED"

	// ErrCodeInvalidEvent indicates an event the engine cannot apply.
	ErrCodeInvalidEvent SyncErrorCode = "INVALID_EVENT"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Handle != "" {
		msg += fmt.Sprintf(" (row=%s)", e.Handle)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsStale reports whether err is a stale page error.
// Uses errors.As to handle wrapped errors.
func IsStale(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeStale
	}
	return false
}

// IsUnknownRow reports whether err is an unknown row error.
func IsUnknownRow(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeUnknownRow
	}
	return false
}

// IsFetchFailed reports whether err is a failed page request.
func IsFetchFailed(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeFetchFailed
	}
	return false
}

func unknownRow(resource, handle string) *SyncError {
	return &SyncError{
		Code:     ErrCodeUnknownRow,
		Message:  "no such row",
		Resource: resource,
		Handle:   handle,
	}
}
