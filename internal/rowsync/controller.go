// Package rowsync is the autosave core: it turns cell edits into creates and
// debounced updates, applies the server's normalized response back onto the
// row and rolls the row back when a save fails.
//
// Every row moves through an explicit State machine (see state.go). Pending
// network work is kept in a ledger keyed by row handle, one entry per row at
// most, removed as soon as the operation is terminal. An empty ledger means
// the controller is quiescent.
package rowsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/gridsync/internal/dedup"
	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/journal"
	"github.com/roach88/gridsync/internal/loop"
	"github.com/roach88/gridsync/internal/notice"
	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/resource"
	"github.com/roach88/gridsync/internal/schema"
)

// DefaultDebounce is how long a saved row waits for more edits before its
// update is sent.
const DefaultDebounce = 300 * time.Millisecond

// Kind is the network operation a ledger entry stands for.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Edit is one cell change already applied to the grid.
type Edit struct {
	Handle string
	Field  string
	Value  any
	// Prev is the value the cell held before this edit.
	Prev any
	// FromHistory marks edits replayed by undo/redo.
	FromHistory bool
	// Revert replaces the plain baseline restore when the save fails.
	Revert func()
	// Compensating marks an edit that itself repairs a failed save. If it
	// fails too, the row is left as shown and marked Reverted.
	Compensating bool
}

// Pending describes a ledger entry.
type Pending struct {
	Handle    string
	Kind      Kind
	InFlight  bool
	Scheduled bool
	// Fields edited but not yet sent.
	Fields []string
}

type fieldChange struct {
	baseline     any
	revert       func()
	compensating bool
}

type operation struct {
	handle   string
	kind     Kind
	inFlight bool
	timer    *loop.Timer

	changes    map[string]*fieldChange
	sent       map[string]*fieldChange
	sentValues record.Fields

	// sendWhenIdle is set when the debounce fired during an in-flight update.
	sendWhenIdle bool
	// deleteAfter is set when Delete was called during an in-flight operation.
	deleteAfter bool

	triggerField string
	triggerPrev  any
}

func newOperation(handle string, kind Kind) *operation {
	return &operation{handle: handle, kind: kind, changes: make(map[string]*fieldChange)}
}

// Controller is the row sync controller. Loop goroutine only.
type Controller struct {
	sched   loop.Scheduler
	grid    grid.Grid
	backend resource.Backend
	res     *schema.Resource
	index   *dedup.Index
	notify  notice.Notifier
	journal *journal.Recorder

	debounce time.Duration
	ledger   map[string]*operation
	states   map[string]State
	illegal  int
	observe  func(h string, from, to State)
}

// Option configures a Controller.
type Option func(*Controller)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		c.debounce = d
	}
}

// WithNotifier sets where user-facing notices go. Default: notice.Discard.
func WithNotifier(n notice.Notifier) Option {
	return func(c *Controller) {
		c.notify = n
	}
}

// WithJournal records every operation outcome.
func WithJournal(r *journal.Recorder) Option {
	return func(c *Controller) {
		c.journal = r
	}
}

// WithIndex shares the pager's dedup index so created rows are indexed.
func WithIndex(x *dedup.Index) Option {
	return func(c *Controller) {
		c.index = x
	}
}

// WithObserver calls fn after every accepted state change.
func WithObserver(fn func(handle string, from, to State)) Option {
	return func(c *Controller) {
		c.observe = fn
	}
}

// New creates a controller for rows of res rendered in g.
func New(sched loop.Scheduler, g grid.Grid, backend resource.Backend, res *schema.Resource, opts ...Option) *Controller {
	c := &Controller{
		sched:    sched,
		grid:     g,
		backend:  backend,
		res:      res,
		index:    dedup.New(),
		notify:   notice.Discard,
		debounce: DefaultDebounce,
		ledger:   make(map[string]*operation),
		states:   make(map[string]State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the row's lifecycle state. Rows never touched by the
// controller are Saved or New depending on their ID; rows not in the grid
// are Deleted.
func (c *Controller) State(handle string) State {
	if s, ok := c.states[handle]; ok {
		return s
	}
	row, ok := c.grid.Row(handle)
	switch {
	case !ok:
		return StateDeleted
	case row.Saved():
		return StateSaved
	default:
		return StateNew
	}
}

// Quiescent reports whether no operation is scheduled or in flight.
func (c *Controller) Quiescent() bool {
	return len(c.ledger) == 0
}

// Pending returns the ledger entry for handle.
func (c *Controller) Pending(handle string) (Pending, bool) {
	op, ok := c.ledger[handle]
	if !ok {
		return Pending{}, false
	}
	p := Pending{Handle: handle, Kind: op.kind, InFlight: op.inFlight, Scheduled: op.timer.Active()}
	for f := range op.changes {
		p.Fields = append(p.Fields, f)
	}
	sort.Strings(p.Fields)
	return p, true
}

// PendingHandles returns handles with a ledger entry, sorted.
func (c *Controller) PendingHandles() []string {
	out := make([]string, 0, len(c.ledger))
	for h := range c.ledger {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Forget drops state kept for a row the grid no longer shows. Rows with a
// pending operation are kept.
func (c *Controller) Forget(handle string) {
	if _, ok := c.ledger[handle]; ok {
		return
	}
	delete(c.states, handle)
}

// IllegalTransitions counts rejected state changes. Non-zero means a bug.
func (c *Controller) IllegalTransitions() int {
	return c.illegal
}

// Edit handles a cell edit the grid has already applied. It returns false
// when the edit was rejected and the cell restored to e.Prev.
func (c *Controller) Edit(e Edit) bool {
	row, ok := c.grid.Row(e.Handle)
	if !ok {
		slog.Warn("edit for unknown row", "handle", e.Handle, "field", e.Field)
		return false
	}
	if s := c.State(e.Handle); s == StateDeleting {
		c.setCell(e.Handle, e.Field, e.Prev)
		c.note(notice.LevelWarning, notice.KindValidation, e.Handle, e.Field, "row is being deleted", nil)
		return false
	}

	if c.res.Required(e.Field) && record.IsEmpty(e.Value) {
		c.setCell(e.Handle, e.Field, e.Prev)
		c.note(notice.LevelWarning, notice.KindValidation, e.Handle, e.Field, e.Field+" is required", nil)
		return false
	}
	if _, err := c.res.Normalize(e.Field, e.Value); err != nil {
		c.setCell(e.Handle, e.Field, e.Prev)
		c.note(notice.LevelWarning, notice.KindValidation, e.Handle, e.Field, "invalid value", err)
		return false
	}

	if row.Saved() {
		c.editSaved(row, e)
	} else {
		c.editUnsaved(row, e)
	}
	return true
}

func (c *Controller) editUnsaved(row record.Row, e Edit) {
	h := row.Handle
	if op, ok := c.ledger[h]; ok && op.kind == KindCreate {
		// The create is in flight: keep the value locally and replay it as
		// an update once the row has an ID.
		op.note(e, e.Prev)
		slog.Debug("edit held until create completes", "handle", h, "field", e.Field)
		return
	}

	if missing := c.res.Missing(row.Fields); len(missing) > 0 {
		slog.Debug("create deferred: required fields empty", "handle", h, "missing", missing)
		return
	}
	c.create(row, e.Field, e.Prev)
}

// Add inserts an unsaved row at the top of the grid. The create is issued
// right away when fields already satisfy every required field, otherwise on
// the edit that completes them.
func (c *Controller) Add(handle string, fields record.Fields) {
	if fields == nil {
		fields = record.Fields{}
	}
	c.grid.Insert(record.Row{Handle: handle, Fields: fields.Clone()})
	c.states[handle] = StateNew
	row, ok := c.grid.Row(handle)
	if !ok || len(fields) == 0 || len(c.res.Missing(row.Fields)) > 0 {
		return
	}
	c.create(row, "", nil)
}

// create issues the POST for an unsaved row. triggerField names the edit
// that completed the row; it is restored to triggerPrev on failure.
func (c *Controller) create(row record.Row, triggerField string, triggerPrev any) {
	h := row.Handle
	payload, err := c.res.Payload(row.Fields)
	if err != nil {
		if triggerField != "" {
			c.setCell(h, triggerField, triggerPrev)
		}
		c.note(notice.LevelWarning, notice.KindValidation, h, triggerField, "invalid value", err)
		return
	}
	if err := c.transition(h, StateCreating); err != nil {
		return
	}

	op := newOperation(h, KindCreate)
	op.inFlight = true
	op.triggerField, op.triggerPrev = triggerField, triggerPrev
	op.sentValues = payload
	c.ledger[h] = op

	slog.Debug("create", "handle", h)
	loop.Await(c.sched, "create "+h,
		func(ctx context.Context) (record.Fields, error) {
			return c.backend.Create(ctx, payload)
		},
		func(out record.Fields, err error) {
			c.created(h, op, out, err)
		})
}

func (c *Controller) created(h string, op *operation, out record.Fields, err error) {
	delete(c.ledger, h)
	op.inFlight = false

	var id int64
	if err == nil {
		var ok bool
		if id, ok = record.IDOf(out, c.res.IDField); !ok {
			err = fmt.Errorf("create response has no %q", c.res.IDField)
		}
	}

	row, ok := c.grid.Row(h)
	if !ok {
		slog.Error("created row vanished from grid", "handle", h)
		delete(c.states, h)
		return
	}

	if err != nil {
		c.transition(h, StateNew)
		if _, edited := op.changes[op.triggerField]; !edited && op.triggerField != "" {
			c.setCell(h, op.triggerField, op.triggerPrev)
		}
		c.journal.Record(journal.Entry{Kind: journal.KindCreate, Status: journal.StatusFailed, Handle: h, Payload: op.sentValues, Error: err.Error()})
		c.note(notice.LevelError, notice.KindCreateFailed, h, op.triggerField, "could not create row", err)
		if op.deleteAfter {
			c.removeLocal(h)
		}
		return
	}

	if other, dup := c.grid.RowByID(id); dup && other.Handle != h {
		// The pager fetched the new entity before the create returned.
		if _, pending := c.ledger[other.Handle]; pending {
			slog.Warn("created row already rendered with pending work; dropping local copy", "handle", h, "id", id)
			c.transition(h, StateSaved)
			c.grid.Remove(h)
			delete(c.states, h)
			return
		}
		c.grid.Remove(other.Handle)
		delete(c.states, other.Handle)
	}

	if err := c.grid.AssignID(h, id); err != nil {
		slog.Error("assign id failed", "handle", h, "id", id, "error", err)
	}
	c.index.Add(id)

	merged := out.Clone()
	for f := range op.changes {
		merged[f] = row.Fields[f]
	}
	if err := c.grid.ReplaceFields(h, merged); err != nil {
		slog.Error("replace fields failed", "handle", h, "error", err)
	}
	c.transition(h, StateSaved)
	c.journal.Record(journal.Entry{Kind: journal.KindCreate, Status: journal.StatusOK, Handle: h, RowID: id, Payload: op.sentValues})
	c.note(notice.LevelInfo, notice.KindSaved, h, "", "row created", nil)
	slog.Debug("created", "handle", h, "id", id)

	if op.deleteAfter {
		c.startDelete(h, id)
		return
	}
	if len(op.changes) > 0 {
		up := newOperation(h, KindUpdate)
		for _, f := range sortedFields(op.changes) {
			ch := op.changes[f]
			up.changes[f] = &fieldChange{baseline: out[f], revert: ch.revert, compensating: ch.compensating}
		}
		c.ledger[h] = up
		c.transition(h, StateEditing)
		c.schedule(h, up)
	}
}

func (c *Controller) editSaved(row record.Row, e Edit) {
	h := row.Handle
	op, ok := c.ledger[h]
	if !ok {
		op = newOperation(h, KindUpdate)
		c.ledger[h] = op
	}

	baseline := e.Prev
	if s, ok := op.sent[e.Field]; ok {
		baseline = s.baseline
	}
	op.note(e, baseline)

	if !op.inFlight {
		if err := c.transition(h, StateEditing); err != nil {
			return
		}
	}
	c.schedule(h, op)
}

// note records a field change on op, keeping the first baseline.
func (op *operation) note(e Edit, baseline any) {
	ch, ok := op.changes[e.Field]
	if !ok {
		ch = &fieldChange{baseline: baseline}
		op.changes[e.Field] = ch
	}
	ch.revert = e.Revert
	ch.compensating = e.Compensating
}

// schedule (re)starts the debounce timer: a new edit cancels and
// reschedules, it never stacks a second request.
func (c *Controller) schedule(h string, op *operation) {
	op.timer.Stop()
	op.sendWhenIdle = false
	op.timer = c.sched.AfterFunc("debounce "+h, c.debounce, func() {
		op.timer = nil
		c.fire(h, op)
	})
}

func (c *Controller) fire(h string, op *operation) {
	if c.ledger[h] != op {
		return
	}
	if op.inFlight {
		op.sendWhenIdle = true
		return
	}
	c.send(h, op)
}

// Flush sends every scheduled update now instead of waiting for its timer.
// Returns the number of updates started or queued behind an in-flight one.
func (c *Controller) Flush() int {
	n := 0
	for _, h := range c.PendingHandles() {
		op := c.ledger[h]
		if !op.timer.Active() {
			continue
		}
		op.timer.Stop()
		op.timer = nil
		c.fire(h, op)
		n++
	}
	return n
}

func (c *Controller) send(h string, op *operation) {
	row, ok := c.grid.Row(h)
	if !ok {
		delete(c.ledger, h)
		return
	}
	payload, err := c.res.Payload(row.Fields)
	if err != nil {
		for _, f := range sortedFields(op.changes) {
			c.setCell(h, f, op.changes[f].baseline)
		}
		delete(c.ledger, h)
		c.transition(h, StateReverted)
		c.note(notice.LevelWarning, notice.KindValidation, h, "", "invalid value", err)
		return
	}

	op.sent, op.changes = op.changes, make(map[string]*fieldChange)
	op.sentValues = payload
	op.inFlight = true
	if err := c.transition(h, StateSaving); err != nil {
		op.inFlight = false
		return
	}

	id := row.ID
	slog.Debug("update", "handle", h, "id", id, "fields", sortedFields(op.sent))
	loop.Await(c.sched, "update "+h,
		func(ctx context.Context) (record.Fields, error) {
			return c.backend.Update(ctx, id, payload)
		},
		func(out record.Fields, err error) {
			c.updated(h, op, id, out, err)
		})
}

func (c *Controller) updated(h string, op *operation, id int64, out record.Fields, err error) {
	op.inFlight = false
	sent, sentValues := op.sent, op.sentValues
	op.sent, op.sentValues = nil, nil

	row, ok := c.grid.Row(h)
	if !ok {
		slog.Error("updated row vanished from grid", "handle", h)
		delete(c.ledger, h)
		delete(c.states, h)
		return
	}

	next := StateSaved
	if err == nil {
		merged := row.Fields.Clone()
		for k, v := range out {
			if ch, again := op.changes[k]; again {
				ch.baseline = v
				continue
			}
			if sv, wasSent := sentValues[k]; wasSent && !c.unchanged(k, row.Fields[k], sv) {
				continue
			}
			merged[k] = v
		}
		if err := c.grid.ReplaceFields(h, merged); err != nil {
			slog.Error("replace fields failed", "handle", h, "error", err)
		}
		c.journal.Record(journal.Entry{Kind: journal.KindUpdate, Status: journal.StatusOK, Handle: h, RowID: id, Payload: sentValues})
		c.note(notice.LevelInfo, notice.KindSaved, h, "", "saved", nil)
	} else {
		next = StateReverted
		c.revertSent(h, op, sent, sentValues, err)
	}

	if op.deleteAfter {
		op.timer.Stop()
		c.transition(h, next)
		c.startDelete(h, id)
		return
	}
	if len(op.changes) > 0 {
		// Newer edits are queued. A failed update is still a rollback, so
		// the row passes through Reverted before it is scheduled again.
		if next == StateReverted {
			c.transition(h, StateReverted)
		}
		c.transition(h, StateEditing)
		if op.sendWhenIdle {
			op.sendWhenIdle = false
			c.send(h, op)
		}
		return
	}
	c.transition(h, next)
	delete(c.ledger, h)
}

// unchanged reports whether the grid still shows the value that was sent.
func (c *Controller) unchanged(field string, current, sent any) bool {
	nv, err := c.res.Normalize(field, current)
	if err != nil {
		return false
	}
	return record.Equal(nv, sent)
}

// revertSent rolls back a failed update. Fields edited again since the
// request was sent keep their newer value. History edits run their revert
// on a later loop turn; compensating edits are not reverted at all.
func (c *Controller) revertSent(h string, op *operation, sent map[string]*fieldChange, payload record.Fields, cause error) {
	terminal := false
	var reverts []func()
	for _, f := range sortedFields(sent) {
		if _, again := op.changes[f]; again {
			continue
		}
		ch := sent[f]
		switch {
		case ch.compensating:
			terminal = true
		case ch.revert != nil:
			reverts = append(reverts, ch.revert)
		default:
			c.setCell(h, f, ch.baseline)
		}
	}

	c.journal.Record(journal.Entry{Kind: journal.KindUpdate, Status: journal.StatusReverted, Handle: h, RowID: idOf(c.grid, h), Payload: payload, Error: cause.Error()})
	if terminal {
		c.note(notice.LevelError, notice.KindCompensationFailed, h, "", "could not restore row on server; showing last applied values", cause)
	} else {
		c.note(notice.LevelError, notice.KindUpdateFailed, h, "", "could not save changes", cause)
	}
	for _, fn := range reverts {
		c.sched.Post("revert "+h, fn)
	}
}

func idOf(g grid.Grid, h string) int64 {
	row, _ := g.Row(h)
	return row.ID
}

// Delete removes a row. Unsaved rows are removed locally; saved rows are
// removed after the server confirms. If an operation is in flight the
// delete waits for it to become terminal. Returns false if the row is
// unknown or already being deleted.
func (c *Controller) Delete(h string) bool {
	row, ok := c.grid.Row(h)
	if !ok {
		return false
	}
	if op, ok := c.ledger[h]; ok {
		switch {
		case op.kind == KindDelete || op.deleteAfter:
			return false
		case op.inFlight:
			op.deleteAfter = true
			return true
		default:
			op.timer.Stop()
			delete(c.ledger, h)
		}
	}
	if !row.Saved() {
		c.removeLocal(h)
		return true
	}
	c.startDelete(h, row.ID)
	return true
}

func (c *Controller) removeLocal(h string) {
	c.transition(h, StateDeleted)
	c.grid.Remove(h)
	delete(c.states, h)
}

func (c *Controller) startDelete(h string, id int64) {
	if err := c.transition(h, StateDeleting); err != nil {
		delete(c.ledger, h)
		return
	}
	op := newOperation(h, KindDelete)
	op.inFlight = true
	c.ledger[h] = op

	slog.Debug("delete", "handle", h, "id", id)
	loop.Await(c.sched, "delete "+h,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.backend.Delete(ctx, id)
		},
		func(_ struct{}, err error) {
			delete(c.ledger, h)
			if err != nil && !resource.IsNotFound(err) {
				c.transition(h, StateSaved)
				c.journal.Record(journal.Entry{Kind: journal.KindDelete, Status: journal.StatusFailed, Handle: h, RowID: id, Error: err.Error()})
				c.note(notice.LevelError, notice.KindDeleteFailed, h, "", "could not delete row", err)
				return
			}
			c.transition(h, StateDeleted)
			c.grid.Remove(h)
			c.index.Remove(id)
			delete(c.states, h)
			c.journal.Record(journal.Entry{Kind: journal.KindDelete, Status: journal.StatusOK, Handle: h, RowID: id})
		})
}

func (c *Controller) transition(h string, to State) error {
	from := c.State(h)
	if !CanTransition(from, to) {
		err := &TransitionError{Handle: h, From: from, To: to}
		c.illegal++
		slog.Error("illegal row transition", "handle", h, "from", from, "to", to)
		return err
	}
	c.states[h] = to
	if c.observe != nil {
		c.observe(h, from, to)
	}
	return nil
}

func (c *Controller) setCell(h, field string, v any) {
	if err := c.grid.SetCell(h, field, v); err != nil && !errors.Is(err, grid.ErrNoRow) {
		slog.Error("set cell failed", "handle", h, "field", field, "error", err)
	}
}

func (c *Controller) note(level notice.Level, kind notice.Kind, h, field, msg string, err error) {
	c.notify.Notify(notice.Notice{Level: level, Kind: kind, Handle: h, Field: field, Message: msg, Err: err})
}

func sortedFields(m map[string]*fieldChange) []string {
	out := make([]string, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
