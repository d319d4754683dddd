// Package history keeps the grid's undo/redo stack and the server in step.
//
// Undo and redo are ordinary edits as far as the server is concerned: each
// one is replayed through the row sync save path. What differs is failure
// handling. A failed undo is repaired by redoing the change, a failed redo by
// undoing it, and that repair is saved as a compensating edit. A failed
// compensating save stops there.
package history

import (
	"log/slog"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/rowsync"
)

// Saver is the row sync save path. Edit reports whether the edit was
// accepted; a rejected edit has already been restored in the grid.
type Saver interface {
	Edit(e rowsync.Edit) bool
}

// Stats counts reconciler activity.
type Stats struct {
	Edits         int
	Undos         int
	Redos         int
	Compensations int
}

// Reconciler routes user edits and history actions into a Saver.
// Loop goroutine only.
type Reconciler struct {
	grid  grid.Grid
	saver Saver
	stats Stats
}

// New returns a reconciler for g.
func New(g grid.Grid, saver Saver) *Reconciler {
	return &Reconciler{grid: g, saver: saver}
}

// Stats returns the counters.
func (r *Reconciler) Stats() Stats {
	return r.stats
}

// Edit applies a user edit to the grid and saves it. Only edits the saver
// accepts are recorded for undo.
func (r *Reconciler) Edit(handle, field string, v any) error {
	row, ok := r.grid.Row(handle)
	if !ok {
		return grid.ErrNoRow
	}
	prev := row.Fields[field]
	if err := r.grid.SetCell(handle, field, v); err != nil {
		return err
	}
	r.stats.Edits++
	if r.saver.Edit(rowsync.Edit{Handle: handle, Field: field, Value: v, Prev: prev}) {
		r.grid.Record(grid.Change{Handle: handle, Field: field, Old: prev, New: v})
	}
	return nil
}

// Undo reverts the newest change and saves the restored value. Returns
// false when there is nothing to undo.
func (r *Reconciler) Undo() bool {
	c, ok := r.grid.Undo()
	if !ok {
		return false
	}
	r.stats.Undos++
	r.saver.Edit(rowsync.Edit{
		Handle:      c.Handle,
		Field:       c.Field,
		Value:       c.Old,
		Prev:        c.New,
		FromHistory: true,
		Revert:      func() { r.reapply(c) },
	})
	return true
}

// Redo reapplies the newest undone change and saves it. Returns false when
// there is nothing to redo.
func (r *Reconciler) Redo() bool {
	c, ok := r.grid.Redo()
	if !ok {
		return false
	}
	r.stats.Redos++
	r.saver.Edit(rowsync.Edit{
		Handle:      c.Handle,
		Field:       c.Field,
		Value:       c.New,
		Prev:        c.Old,
		FromHistory: true,
		Revert:      func() { r.unapply(c) },
	})
	return true
}

// reapply repairs a failed undo of c by redoing it.
func (r *Reconciler) reapply(c grid.Change) {
	if next, ok := r.grid.PeekRedo(); ok && next.Seq == c.Seq {
		r.grid.Redo()
	} else if err := r.grid.SetCell(c.Handle, c.Field, c.New); err != nil {
		slog.Warn("compensating redo skipped", "change", c.String(), "error", err)
		return
	}
	r.compensate(c.Handle, c.Field, c.New, c.Old)
}

// unapply repairs a failed redo of c by undoing it.
func (r *Reconciler) unapply(c grid.Change) {
	if next, ok := r.grid.PeekUndo(); ok && next.Seq == c.Seq {
		r.grid.Undo()
	} else if err := r.grid.SetCell(c.Handle, c.Field, c.Old); err != nil {
		slog.Warn("compensating undo skipped", "change", c.String(), "error", err)
		return
	}
	r.compensate(c.Handle, c.Field, c.Old, c.New)
}

func (r *Reconciler) compensate(handle, field string, v, prev any) {
	r.stats.Compensations++
	slog.Debug("compensating edit", "handle", handle, "field", field)
	r.saver.Edit(rowsync.Edit{
		Handle:       handle,
		Field:        field,
		Value:        v,
		Prev:         prev,
		FromHistory:  true,
		Compensating: true,
	})
}
