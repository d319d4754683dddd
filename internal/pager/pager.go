// Package pager walks a keyset-paginated collection.
//
// A Pager owns the cursor, the has-more flags and the load version. First
// starts a new walk and bumps the version; Next and Prev continue it. Every
// response is tagged with the version it was issued under and dropped on
// arrival if a newer walk has started: that is the only cancellation there
// is.
//
// Fetched rows are filtered through a dedup.Index before they are handed to
// the caller. A page that yields nothing new while the backend still claims
// more is a stall; see regress for how the walk is kept moving.
package pager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/gridsync/internal/dedup"
	"github.com/roach88/gridsync/internal/journal"
	"github.com/roach88/gridsync/internal/loop"
	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/resource"
	"github.com/roach88/gridsync/internal/schema"
)

// DefaultMaxStalls bounds consecutive zero-net-new pages before the walk is
// declared finished.
const DefaultMaxStalls = 8

// ErrOpaqueStall is reported when an opaque-cursor walk stalls.
var ErrOpaqueStall = errors.New("page contained only rows already loaded and the cursor is opaque")

// ErrTooManyStalls is reported when MaxStalls consecutive pages added nothing.
var ErrTooManyStalls = errors.New("too many consecutive pages without new rows")

// Mode is which request produced a Result.
type Mode int

const (
	ModeFirst Mode = iota
	ModeNext
	ModePrev
)

func (m Mode) String() string {
	switch m {
	case ModeFirst:
		return "first"
	case ModeNext:
		return "next"
	case ModePrev:
		return "prev"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Query is what a walk searches for.
type Query struct {
	Keyword string
	Params  map[string]string
}

// State is the cursor state of the current walk.
type State struct {
	Cursor      record.Cursor
	HasMore     bool
	PrevCursor  record.Cursor
	HasPrev     bool
	PageSize    int
	Keyword     string
	LoadVersion int
	Loading     bool
	Stalls      int
	Failures    int
}

// Result is delivered to the done callback of First, Next and Prev.
type Result struct {
	Mode    Mode
	Version int
	// Stale is set when the response arrived after a newer First. Nothing
	// else is set and nothing was indexed.
	Stale bool
	Err   error
	// Rows are the net-new rows, already indexed, without handles.
	Rows []record.Row
	Dups int
	// Regressed is set when the cursor was moved past the loaded range
	// because the page added nothing.
	Regressed bool
	// Stopped is set when this response ended the walk early (stall limit,
	// opaque stall or failure limit). Warning carries the reason.
	Stopped bool
	Warning error
}

// Pager is one resource's keyset walker. Loop goroutine only.
type Pager struct {
	sched   loop.Scheduler
	backend resource.Backend
	res     *schema.Resource
	index   *dedup.Index
	journal *journal.Recorder

	maxStalls         int
	stopAfterFailures int

	state  State
	params map[string]string
}

// Option configures a Pager.
type Option func(*Pager)

// WithMaxStalls overrides DefaultMaxStalls.
func WithMaxStalls(n int) Option {
	return func(p *Pager) {
		if n > 0 {
			p.maxStalls = n
		}
	}
}

// StopAfterFailures ends the walk (HasMore=false) after n consecutive failed
// fetches. Zero, the default, never stops: the caller retries by asking again.
func StopAfterFailures(n int) Option {
	return func(p *Pager) {
		p.stopAfterFailures = n
	}
}

// WithJournal records every fetch outcome.
func WithJournal(r *journal.Recorder) Option {
	return func(p *Pager) {
		p.journal = r
	}
}

// WithPageSize overrides the resource's page size.
func WithPageSize(n int) Option {
	return func(p *Pager) {
		if n > 0 {
			p.state.PageSize = n
		}
	}
}

// New creates a pager. The index is shared with the caller, which adds IDs
// of rows it creates itself.
func New(sched loop.Scheduler, backend resource.Backend, res *schema.Resource, index *dedup.Index, opts ...Option) *Pager {
	p := &Pager{
		sched:     sched,
		backend:   backend,
		res:       res,
		index:     index,
		maxStalls: DefaultMaxStalls,
		state:     State{PageSize: res.PageSize},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a copy of the cursor state.
func (p *Pager) State() State {
	return p.state
}

// Loading reports whether a fetch for the current version is outstanding.
func (p *Pager) Loading() bool {
	return p.state.Loading
}

// HasMore reports whether Next may fetch.
func (p *Pager) HasMore() bool {
	return p.state.HasMore
}

// HasPrev reports whether Prev may fetch.
func (p *Pager) HasPrev() bool {
	return p.state.HasPrev
}

// First starts a new walk for q. The cursor is reset, the load version
// bumped and the index reset to pinned (IDs of rows that stay rendered).
// Any response still in flight for an older version will be dropped.
func (p *Pager) First(q Query, pinned []int64, done func(Result)) {
	p.state = State{
		PageSize:    p.state.PageSize,
		Keyword:     q.Keyword,
		LoadVersion: p.state.LoadVersion + 1,
	}
	p.params = q.Params
	p.index.Reset(pinned...)
	p.fetch(ModeFirst, record.NoCursor, done)
}

// Next fetches the page after the cursor. It is a no-op returning false,
// with no request, when the walk has no more rows or a fetch for the current
// version is outstanding.
func (p *Pager) Next(done func(Result)) bool {
	if !p.state.HasMore || p.state.Loading {
		return false
	}
	p.fetch(ModeNext, p.state.Cursor, done)
	return true
}

// Prev fetches the page before the first loaded row when the backend
// reported a prev cursor. Same guard as Next.
func (p *Pager) Prev(done func(Result)) bool {
	if !p.state.HasPrev || p.state.Loading {
		return false
	}
	p.fetch(ModePrev, p.state.PrevCursor, done)
	return true
}

func (p *Pager) fetch(mode Mode, cursor record.Cursor, done func(Result)) {
	version := p.state.LoadVersion
	req := resource.KeysetRequest{
		Limit:   p.state.PageSize,
		Cursor:  cursor,
		Keyword: p.state.Keyword,
		Params:  p.params,
	}
	if mode == ModePrev {
		req.Direction = resource.Backward
	}
	p.state.Loading = true

	slog.Debug("fetch",
		"resource", p.res.Name,
		"mode", mode,
		"version", version,
		"cursor", cursor,
	)
	loop.Await(p.sched, "fetch "+mode.String(),
		func(ctx context.Context) (resource.Page, error) {
			return p.backend.Keyset(ctx, req)
		},
		func(page resource.Page, err error) {
			res := p.receive(mode, version, cursor, page, err)
			if done != nil {
				done(res)
			}
		})
}

func (p *Pager) receive(mode Mode, version int, cursor record.Cursor, page resource.Page, err error) Result {
	res := Result{Mode: mode, Version: version}
	if version != p.state.LoadVersion {
		slog.Debug("fetch discarded: stale",
			"resource", p.res.Name,
			"mode", mode,
			"version", version,
			"current", p.state.LoadVersion,
		)
		p.journal.Record(journal.Entry{Kind: journal.KindFetch, Status: journal.StatusStale, Version: version, Cursor: cursor, Items: len(page.Items)})
		res.Stale = true
		return res
	}
	p.state.Loading = false

	if err != nil {
		p.state.Failures++
		res.Err = fmt.Errorf("%s %s page: %w", p.res.Name, mode, err)
		if p.stopAfterFailures > 0 && p.state.Failures >= p.stopAfterFailures {
			p.stop(mode)
			res.Stopped = true
			res.Warning = fmt.Errorf("giving up after %d failed fetches", p.state.Failures)
		}
		p.journal.Record(journal.Entry{Kind: journal.KindFetch, Status: journal.StatusFailed, Version: version, Cursor: cursor, Error: err.Error()})
		return res
	}
	p.state.Failures = 0

	rows := make([]record.Row, len(page.Items))
	for i, item := range page.Items {
		rows[i] = p.res.RowFromFields("", item)
	}
	fresh, dups := p.index.Filter(rows)
	res.Rows, res.Dups = fresh, dups

	if mode == ModePrev {
		p.state.PrevCursor, p.state.HasPrev = page.PrevCursor, page.HasPrev
		if len(fresh) == 0 && page.HasPrev {
			p.stall(&res, resource.Backward, cursor, page.PrevCursor)
		} else {
			p.state.Stalls = 0
		}
	} else {
		p.state.Cursor, p.state.HasMore = page.NextCursor, page.HasMore
		if mode == ModeFirst {
			p.state.PrevCursor, p.state.HasPrev = page.PrevCursor, page.HasPrev
		}
		if len(fresh) == 0 && page.HasMore {
			p.stall(&res, resource.Forward, cursor, page.NextCursor)
		} else {
			p.state.Stalls = 0
			p.ensureCursor(&res, fresh)
		}
	}

	status := journal.StatusOK
	if res.Stopped {
		status = journal.StatusStopped
	}
	p.journal.Record(journal.Entry{Kind: journal.KindFetch, Status: status, Version: version, Cursor: cursor, Items: len(page.Items), Fresh: len(fresh)})
	return res
}

// ensureCursor handles a backend that claims more rows but sent no cursor.
func (p *Pager) ensureCursor(res *Result, fresh []record.Row) {
	if !p.state.HasMore || !p.state.Cursor.IsZero() {
		return
	}
	if p.res.Cursor == schema.CursorNumericID {
		if last := lastSaved(fresh); last != record.NoID {
			p.state.Cursor = record.CursorFromID(last)
			return
		}
	}
	p.state.HasMore = false
	res.Stopped = true
	res.Warning = errors.New("backend reported more rows without a cursor")
	slog.Warn("pagination stopped: missing cursor", "resource", p.res.Name)
}

func lastSaved(rows []record.Row) int64 {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Saved() {
			return rows[i].ID
		}
	}
	return record.NoID
}

// stall handles a page that added no rows while more are claimed.
func (p *Pager) stall(res *Result, dir resource.Direction, prev, next record.Cursor) {
	p.state.Stalls++
	mode := ModeNext
	if dir == resource.Backward {
		mode = ModePrev
	}

	var reason error
	switch {
	case p.state.Stalls >= p.maxStalls:
		reason = fmt.Errorf("%w (%d)", ErrTooManyStalls, p.state.Stalls)
	case p.res.Cursor != schema.CursorNumericID:
		reason = ErrOpaqueStall
	default:
		c, ok := p.regress(dir, prev, next)
		if !ok {
			reason = errors.New("loaded range already reaches the end of the collection")
			break
		}
		slog.Info("cursor regressed past loaded range",
			"resource", p.res.Name,
			"direction", dir,
			"from", prev,
			"to", c,
			"stalls", p.state.Stalls,
		)
		if dir == resource.Backward {
			p.state.PrevCursor = c
		} else {
			p.state.Cursor = c
		}
		res.Regressed = true
		return
	}

	slog.Warn("pagination stopped",
		"resource", p.res.Name,
		"direction", dir,
		"reason", reason,
	)
	p.stop(mode)
	res.Stopped = true
	res.Warning = reason
}

func (p *Pager) stop(mode Mode) {
	if mode == ModePrev {
		p.state.HasPrev = false
		return
	}
	p.state.HasMore = false
}

// regress picks the cursor for the request after a stalled page. Numeric
// keyset cursors are exclusive bounds, so the furthest ID the walk fetched in
// its direction (MinLoadedID when IDs decrease, MaxLoadedID when they
// increase) skips the whole fetched range. Created and pinned IDs are not
// part of that range. The server's own cursor wins if it is
// further. The result always lies strictly beyond prev, so repeated stalls
// make progress and a finite collection is exhausted.
func (p *Pager) regress(dir resource.Direction, prev, next record.Cursor) (record.Cursor, bool) {
	down := (p.res.Order == schema.OrderDesc) == (dir == resource.Forward)
	beyond := func(a, b int64) bool {
		if down {
			return a < b
		}
		return a > b
	}

	var cand int64
	have := false
	if down {
		cand, have = p.index.Min()
	} else {
		cand, have = p.index.Max()
	}
	if n, ok := next.Int64(); ok && (!have || beyond(n, cand)) {
		cand, have = n, true
	}
	if pn, ok := prev.Int64(); ok && (!have || !beyond(cand, pn)) {
		if down {
			cand = pn - 1
		} else {
			cand = pn + 1
		}
		have = true
	}
	if !have || (down && cand <= 0) {
		return record.NoCursor, false
	}
	return record.CursorFromID(cand), true
}
