package engine

import (
	"github.com/roach88/gridsync/internal/pager"
	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/trigger"
)

// Event is an input from the grid widget or its host.
//
// Events are applied on the loop goroutine in the order they were enqueued.
type Event interface {
	apply(e *Engine) error
}

// CellEdited is a user edit of one cell.
type CellEdited struct {
	Handle string
	Field  string
	Value  any
}

func (ev CellEdited) apply(e *Engine) error {
	if err := e.history.Edit(ev.Handle, ev.Field, ev.Value); err != nil {
		return unknownRow(e.res.Name, ev.Handle)
	}
	return nil
}

// Undo pops the newest change off the grid's history and saves the result.
type Undo struct{}

func (Undo) apply(e *Engine) error {
	e.history.Undo()
	return nil
}

// Redo reapplies the newest undone change and saves it.
type Redo struct{}

func (Redo) apply(e *Engine) error {
	e.history.Redo()
	return nil
}

// Search starts a new walk. Rows with pending work stay rendered.
type Search struct {
	Keyword string
	Params  map[string]string
}

func (ev Search) apply(e *Engine) error {
	e.search(pager.Query{Keyword: ev.Keyword, Params: ev.Params})
	return nil
}

// LoadMore asks for the next page directly, bypassing the trigger's
// cooldown. The pager's own guard still applies.
type LoadMore struct{}

func (LoadMore) apply(e *Engine) error {
	e.pager.Next(e.merge)
	return nil
}

// LoadPrev asks for the page before the first loaded row.
type LoadPrev struct{}

func (LoadPrev) apply(e *Engine) error {
	e.pager.Prev(e.merge)
	return nil
}

// SentinelVisible reports the bottom sentinel's visibility.
type SentinelVisible struct {
	Visible bool
}

func (ev SentinelVisible) apply(e *Engine) error {
	e.trigger.SentinelVisible(ev.Visible)
	return nil
}

// Scrolled reports the scroll container's geometry.
type Scrolled struct {
	Viewport trigger.Viewport
}

func (ev Scrolled) apply(e *Engine) error {
	e.trigger.Scrolled(ev.Viewport)
	return nil
}

// AddRow inserts a new row at the top. An empty Handle gets a generated one.
type AddRow struct {
	Handle string
	Fields record.Fields
}

func (ev AddRow) apply(e *Engine) error {
	h := ev.Handle
	if h == "" {
		h = e.handles.Generate()
	}
	if _, ok := e.grid.Row(h); ok {
		return &SyncError{Code: ErrCodeInvalidEvent, Message: "handle already rendered", Resource: e.res.Name, Handle: h}
	}
	e.rows.Add(h, ev.Fields)
	return nil
}

// DeleteRow removes a row, on the server too when it was saved.
type DeleteRow struct {
	Handle string
}

func (ev DeleteRow) apply(e *Engine) error {
	if _, ok := e.grid.Row(ev.Handle); !ok {
		return unknownRow(e.res.Name, ev.Handle)
	}
	e.rows.Delete(ev.Handle)
	return nil
}

// Flush sends every debounced update now.
type Flush struct{}

func (Flush) apply(e *Engine) error {
	e.rows.Flush()
	return nil
}
