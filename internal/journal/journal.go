// Package journal records the outcome of every network operation a session
// performs, stamped with the loop's logical sequence.
//
// The journal is an audit trail: nothing reads it back during a session.
// internal/store persists it to SQLite; Memory keeps it for tests.
package journal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/gridsync/internal/loop"
	"github.com/roach88/gridsync/internal/record"
)

// Kind is the operation that produced an entry.
type Kind string

const (
	KindFetch  Kind = "fetch"
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Status is how the operation ended.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusStale    Status = "stale"
	StatusReverted Status = "reverted"
	StatusStopped  Status = "stopped"
)

// Entry is one journaled outcome.
type Entry struct {
	Seq      int64
	Session  string
	Resource string
	Kind     Kind
	Status   Status
	Handle   string
	RowID    int64
	// Version is the pager load version a fetch was issued under.
	Version int
	Cursor  record.Cursor
	// Items counts rows in a fetch response; Fresh counts those merged.
	Items   int
	Fresh   int
	Payload record.Fields
	Error   string
}

// Writer persists entries.
type Writer interface {
	Append(ctx context.Context, e Entry) error
}

// Recorder stamps entries with session, resource and sequence before
// handing them to a Writer. A nil *Recorder discards everything.
type Recorder struct {
	w        Writer
	seq      *loop.Seq
	session  string
	resource string
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w Writer, seq *loop.Seq, session, resource string) *Recorder {
	if seq == nil {
		seq = loop.NewSeq()
	}
	return &Recorder{w: w, seq: seq, session: session, resource: resource}
}

// Record appends e. Write failures are logged, never returned: losing an
// audit entry must not break the session.
func (r *Recorder) Record(e Entry) {
	if r == nil || r.w == nil {
		return
	}
	e.Seq = r.seq.Next()
	e.Session = r.session
	e.Resource = r.resource
	if e.Payload != nil {
		e.Payload = e.Payload.Clone()
	}
	if err := r.w.Append(context.Background(), e); err != nil {
		slog.Warn("journal append failed",
			"seq", e.Seq,
			"kind", e.Kind,
			"status", e.Status,
			"error", err,
		)
	}
}

// Memory is an in-memory Writer.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// Append implements Writer.
func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns a copy of everything appended.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Statuses returns "kind/status" for every entry, in order.
func (m *Memory) Statuses() []string {
	entries := m.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Kind) + "/" + string(e.Status)
	}
	return out
}
