package harness

import (
	"github.com/roach88/gridsync/internal/pager"
	"github.com/roach88/gridsync/internal/record"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Requests is the backend's request log, one line per call.
	Requests []string `json:"requests"`

	// Journal is the session's "kind/status" outcome sequence.
	Journal []string `json:"journal"`

	// Notices are the kinds of user notices, in order.
	Notices []string `json:"notices"`

	// Rows are the rendered rows, top to bottom.
	Rows []record.Row `json:"rows"`

	// States maps row handles to their sync state.
	States map[string]string `json:"states"`

	Pager     pager.State `json:"pager"`
	Quiescent bool        `json:"quiescent"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Requests: []string{},
		Journal:  []string{},
		Notices:  []string{},
		States:   map[string]string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Row finds a rendered row by handle or, when handle is empty, by ID.
func (r *Result) Row(handle string, id int64) (record.Row, bool) {
	for _, row := range r.Rows {
		if handle != "" {
			if row.Handle == handle {
				return row, true
			}
			continue
		}
		if row.ID == id {
			return row, true
		}
	}
	return record.Row{}, false
}
