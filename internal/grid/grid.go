// Package grid is the contract between the sync engine and the editable
// table widget, plus Table, an in-memory implementation.
//
// The engine never renders anything. It reads rows, writes cell values and
// issues three merge commands: SetData after a fresh search, Append after a
// forward page and UpsertByID after a backward page. The widget owns the
// undo/redo stack; the engine only pops and replays entries from it.
package grid

import (
	"errors"
	"fmt"

	"github.com/roach88/gridsync/internal/record"
)

// ErrNoRow is returned when a handle does not name a rendered row.
var ErrNoRow = errors.New("no such row")

// Change is one cell edit in the undo/redo history.
type Change struct {
	// Seq identifies the change within one grid.
	Seq    int64
	Handle string
	Field  string
	Old    any
	New    any
}

func (c Change) String() string {
	return fmt.Sprintf("#%d %s.%s: %v -> %v", c.Seq, c.Handle, c.Field, c.Old, c.New)
}

// Grid is the widget surface the engine drives.
type Grid interface {
	Row(handle string) (record.Row, bool)
	RowByID(id int64) (record.Row, bool)
	Rows() []record.Row
	Len() int

	// SetCell writes one value without touching history.
	SetCell(handle, field string, v any) error
	// ReplaceFields overwrites the row's fields with f.
	ReplaceFields(handle string, f record.Fields) error
	// AssignID gives an unsaved row its server ID.
	AssignID(handle string, id int64) error

	SetData(rows []record.Row)
	Append(rows []record.Row)
	// UpsertByID updates rows whose ID is rendered and inserts the rest at
	// the top, preserving their order.
	UpsertByID(rows []record.Row)
	// Insert adds a row at the top.
	Insert(row record.Row)
	Remove(handle string) bool

	// Record pushes a user edit onto the undo stack and clears redo.
	Record(c Change) Change
	// Undo pops the newest change, restores its Old value and moves it to
	// the redo stack.
	Undo() (Change, bool)
	// Redo is the inverse of Undo.
	Redo() (Change, bool)
	// PeekUndo and PeekRedo return the change Undo or Redo would apply.
	PeekUndo() (Change, bool)
	PeekRedo() (Change, bool)
}
