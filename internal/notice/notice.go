// Package notice carries user-facing feedback (the grid's toasts) out of the
// sync engine.
package notice

import (
	"fmt"
	"log/slog"
	"sync"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Kind classifies a notice.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindCreateFailed       Kind = "create_failed"
	KindUpdateFailed       Kind = "update_failed"
	KindDeleteFailed       Kind = "delete_failed"
	KindFetchFailed        Kind = "fetch_failed"
	KindCompensationFailed Kind = "compensation_failed"
	KindPaginationStopped  Kind = "pagination_stopped"
	KindSaved              Kind = "saved"
)

// Notice is one message for the user.
type Notice struct {
	Level   Level
	Kind    Kind
	Handle  string
	Field   string
	Message string
	Err     error
}

func (n Notice) String() string {
	s := fmt.Sprintf("[%s] %s", n.Level, n.Message)
	if n.Err != nil {
		s += ": " + n.Err.Error()
	}
	return s
}

// Notifier receives notices. Called on the loop goroutine.
type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function to Notifier.
type Func func(Notice)

// Notify implements Notifier.
func (f Func) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = Func(func(Notice) {})

// Log writes notices to slog.
type Log struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l Log) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", n.Kind}
	if n.Handle != "" {
		attrs = append(attrs, "handle", n.Handle)
	}
	if n.Field != "" {
		attrs = append(attrs, "field", n.Field)
	}
	if n.Err != nil {
		attrs = append(attrs, "error", n.Err)
	}
	switch n.Level {
	case LevelError:
		logger.Error(n.Message, attrs...)
	case LevelWarning:
		logger.Warn(n.Message, attrs...)
	default:
		logger.Info(n.Message, attrs...)
	}
}

// Recorder keeps every notice. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Kinds returns the kind of every recorded notice, in order.
func (r *Recorder) Kinds() []Kind {
	ns := r.Notices()
	out := make([]Kind, len(ns))
	for i, n := range ns {
		out[i] = n.Kind
	}
	return out
}

// Multi fans a notice out to several notifiers.
func Multi(ns ...Notifier) Notifier {
	return Func(func(n Notice) {
		for _, x := range ns {
			if x != nil {
				x.Notify(n)
			}
		}
	})
}
