package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/gridsync/internal/dedup"
	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/history"
	"github.com/roach88/gridsync/internal/journal"
	"github.com/roach88/gridsync/internal/loop"
	"github.com/roach88/gridsync/internal/notice"
	"github.com/roach88/gridsync/internal/pager"
	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/resource"
	"github.com/roach88/gridsync/internal/rowsync"
	"github.com/roach88/gridsync/internal/schema"
	"github.com/roach88/gridsync/internal/trigger"
)

// HandleGenerator generates row handles and session IDs.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type HandleGenerator interface {
	Generate() string
}

// Stats counts what a session did.
type Stats struct {
	Pages         int
	Fetched       int
	Dups          int
	Regressions   int
	Stale         int
	FetchFailures int
	Stops         int
	Trigger       trigger.Stats
	History       history.Stats
}

// Engine is one grid session against one resource.
//
// All state lives on a single-writer loop. External callers use Enqueue()
// while Run() drives the loop, or Apply() plus Settle() when they drive it
// themselves (CLI, harness, tests).
type Engine struct {
	loop    *loop.Loop
	backend resource.Backend
	res     *schema.Resource
	grid    grid.Grid
	index   *dedup.Index
	pager   *pager.Pager
	trigger *trigger.Trigger
	rows    *rowsync.Controller
	history *history.Reconciler
	notify  notice.Notifier
	journal *journal.Recorder
	handles HandleGenerator
	session string

	query    pager.Query
	lastPage pager.Result
	onPage   func(pager.Result)
	stats    Stats
}

type settings struct {
	clock   loop.Clock
	grid    grid.Grid
	handles HandleGenerator
	session string
	writer  journal.Writer
	notify  notice.Notifier
	onPage  func(pager.Result)
	pager   []pager.Option
	trigger []trigger.Option
	rowsync []rowsync.Option
}

// EngineOption configures an engine.
type EngineOption func(*settings)

// WithClock sets the loop clock. Default: wall clock.
func WithClock(c loop.Clock) EngineOption {
	return func(s *settings) {
		s.clock = c
	}
}

// WithGrid sets the widget the engine drives. Default: grid.NewTable(0).
func WithGrid(g grid.Grid) EngineOption {
	return func(s *settings) {
		s.grid = g
	}
}

// WithHandles sets the row handle generator. Default: UUIDv7Generator.
func WithHandles(g HandleGenerator) EngineOption {
	return func(s *settings) {
		s.handles = g
	}
}

// WithSession sets the session ID stamped on journal entries.
// Default: a fresh UUIDv7.
func WithSession(id string) EngineOption {
	return func(s *settings) {
		s.session = id
	}
}

// WithJournal records every network outcome to w.
func WithJournal(w journal.Writer) EngineOption {
	return func(s *settings) {
		s.writer = w
	}
}

// WithNotifier sets where notices go. Default: notice.Log on slog.Default().
func WithNotifier(n notice.Notifier) EngineOption {
	return func(s *settings) {
		s.notify = n
	}
}

// WithPageObserver is called after every page result has been merged.
func WithPageObserver(fn func(pager.Result)) EngineOption {
	return func(s *settings) {
		s.onPage = fn
	}
}

// WithDebounce sets the autosave debounce.
//
// Default: 300ms (rowsync.DefaultDebounce)
func WithDebounce(d time.Duration) EngineOption {
	return func(s *settings) {
		s.rowsync = append(s.rowsync, rowsync.WithDebounce(d))
	}
}

// WithPageSize overrides the resource's page size.
func WithPageSize(n int) EngineOption {
	return func(s *settings) {
		s.pager = append(s.pager, pager.WithPageSize(n))
	}
}

// WithMaxStalls bounds consecutive pages without new rows.
func WithMaxStalls(n int) EngineOption {
	return func(s *settings) {
		s.pager = append(s.pager, pager.WithMaxStalls(n))
	}
}

// StopAfterFailures ends the walk after n consecutive failed fetches.
func StopAfterFailures(n int) EngineOption {
	return func(s *settings) {
		s.pager = append(s.pager, pager.StopAfterFailures(n))
	}
}

// WithThreshold sets the trigger's near-bottom distance in pixels.
func WithThreshold(px float64) EngineOption {
	return func(s *settings) {
		s.trigger = append(s.trigger, trigger.WithThreshold(px))
	}
}

// WithPollInterval sets the trigger's fallback poll. Zero disables it.
func WithPollInterval(d time.Duration) EngineOption {
	return func(s *settings) {
		s.trigger = append(s.trigger, trigger.WithPollInterval(d))
	}
}

// WithCooldown sets the minimum time between two trigger requests.
func WithCooldown(d time.Duration) EngineOption {
	return func(s *settings) {
		s.trigger = append(s.trigger, trigger.WithCooldown(d))
	}
}

// New creates an engine syncing res through backend.
func New(backend resource.Backend, res *schema.Resource, opts ...EngineOption) *Engine {
	s := settings{
		handles: UUIDv7Generator{},
		notify:  notice.Log{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.grid == nil {
		s.grid = grid.NewTable(0)
	}
	if s.session == "" {
		s.session = UUIDv7Generator{}.Generate()
	}

	var loopOpts []loop.Option
	if s.clock != nil {
		loopOpts = append(loopOpts, loop.WithClock(s.clock))
	}
	l := loop.New(loopOpts...)

	e := &Engine{
		loop:    l,
		backend: backend,
		res:     res,
		grid:    s.grid,
		index:   dedup.New(),
		notify:  s.notify,
		handles: s.handles,
		session: s.session,
		onPage:  s.onPage,
	}
	if s.writer != nil {
		e.journal = journal.NewRecorder(s.writer, l.Seq(), s.session, res.Name)
	}

	pagerOpts := append([]pager.Option{pager.WithJournal(e.journal)}, s.pager...)
	e.pager = pager.New(l, backend, res, e.index, pagerOpts...)
	e.trigger = trigger.New(l, loader{e}, s.trigger...)

	rowOpts := append([]rowsync.Option{
		rowsync.WithNotifier(e.notify),
		rowsync.WithJournal(e.journal),
		rowsync.WithIndex(e.index),
		rowsync.WithObserver(func(h string, from, to rowsync.State) {
			slog.Debug("row state", "session", s.session, "handle", h, "from", from, "to", to)
		}),
	}, s.rowsync...)
	e.rows = rowsync.New(l, e.grid, backend, res, rowOpts...)
	e.history = history.New(e.grid, e.rows)
	return e
}

// Enqueue submits an event for processing on the loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.loop.TryPost(fmt.Sprintf("%T", ev), func() {
		if err := ev.apply(e); err != nil {
			logEventError(ev, err)
		}
	})
}

// Apply processes ev immediately. Only valid on the loop goroutine, i.e.
// when the caller drives the loop with Drain or Settle rather than Run.
func (e *Engine) Apply(ev Event) error {
	return ev.apply(e)
}

// Start begins the trigger's fallback poll.
func (e *Engine) Start() {
	e.loop.Post("trigger start", e.trigger.Start)
}

// Run starts the trigger and processes events until ctx is cancelled or
// Stop is called. Must be called from exactly ONE goroutine.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "resource", e.res.Name, "session", e.session)
	e.Start()
	err := e.loop.Run(ctx)
	slog.Info("engine stopped", "resource", e.res.Name)
	return err
}

// Stop shuts the loop down; Run returns and in-flight requests are cancelled.
func (e *Engine) Stop() {
	e.loop.Stop()
}

// Drain processes queued events without blocking.
func (e *Engine) Drain() int {
	return e.loop.Drain()
}

// Settle processes events until nothing is queued or in flight. Timers
// still pending are left alone.
func (e *Engine) Settle(ctx context.Context) error {
	return e.loop.Settle(ctx)
}

// Quiescent reports whether nothing is queued, in flight or waiting to be
// saved.
func (e *Engine) Quiescent() bool {
	return e.rows.Quiescent() &&
		!e.pager.Loading() &&
		e.loop.Pending() == 0 &&
		e.loop.QueueLen() == 0
}

// Session returns the session ID.
func (e *Engine) Session() string {
	return e.session
}

// Resource returns the synced resource.
func (e *Engine) Resource() *schema.Resource {
	return e.res
}

// Grid returns the widget the engine drives.
func (e *Engine) Grid() grid.Grid {
	return e.grid
}

// PagerState returns the current walk's cursor state.
func (e *Engine) PagerState() pager.State {
	return e.pager.State()
}

// RowState returns the row's sync state.
func (e *Engine) RowState(handle string) rowsync.State {
	return e.rows.State(handle)
}

// Pending returns the row's pending operation, if any.
func (e *Engine) Pending(handle string) (rowsync.Pending, bool) {
	return e.rows.Pending(handle)
}

// IllegalTransitions counts rejected row state changes. Non-zero is a bug.
func (e *Engine) IllegalTransitions() int {
	return e.rows.IllegalTransitions()
}

// Stats returns session counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.Trigger = e.trigger.Stats()
	s.History = e.history.Stats()
	return s
}

// Walk searches for q and follows the walk until the collection is
// exhausted, driving the loop from the calling goroutine. It returns the
// first fetch error. Not for use while Run is active.
func (e *Engine) Walk(ctx context.Context, q pager.Query) error {
	e.search(q)
	for {
		if err := e.loop.Settle(ctx); err != nil {
			return err
		}
		if err := e.lastPage.Err; err != nil {
			return &SyncError{Code: ErrCodeFetchFailed, Message: "walk aborted", Resource: e.res.Name, Version: e.lastPage.Version, Err: err}
		}
		e.lastPage = pager.Result{}
		if !e.pager.Next(e.merge) {
			return nil
		}
	}
}

// Find walks until the row with id is rendered. Returns an unknown row
// error if the collection ends first.
func (e *Engine) Find(ctx context.Context, id int64) (record.Row, error) {
	if row, ok := e.grid.RowByID(id); ok {
		return row, nil
	}
	if e.pager.State().LoadVersion == 0 {
		e.search(e.query)
	}
	for {
		if err := e.loop.Settle(ctx); err != nil {
			return record.Row{}, err
		}
		if row, ok := e.grid.RowByID(id); ok {
			return row, nil
		}
		if err := e.lastPage.Err; err != nil {
			return record.Row{}, &SyncError{Code: ErrCodeFetchFailed, Message: "find aborted", Resource: e.res.Name, Err: err}
		}
		e.lastPage = pager.Result{}
		if !e.pager.Next(e.merge) {
			return record.Row{}, &SyncError{Code: ErrCodeUnknownRow, Message: fmt.Sprintf("no row with id %d", id), Resource: e.res.Name}
		}
	}
}

func (e *Engine) search(q pager.Query) {
	e.query = q
	e.lastPage = pager.Result{}
	var pinned []int64
	for _, r := range e.pinned() {
		if r.Saved() {
			pinned = append(pinned, r.ID)
		}
	}
	slog.Debug("search", "resource", e.res.Name, "keyword", q.Keyword, "pinned", len(pinned))
	e.pager.First(q, pinned, e.merge)
}

// pinned returns rows that survive a re-search: unsaved drafts and rows
// with a pending operation.
func (e *Engine) pinned() []record.Row {
	var out []record.Row
	for _, r := range e.grid.Rows() {
		if _, busy := e.rows.Pending(r.Handle); busy || !r.Saved() {
			out = append(out, r)
		}
	}
	return out
}

// merge applies one page result to the grid.
func (e *Engine) merge(res pager.Result) {
	e.stats.Pages++
	if res.Stale {
		e.stats.Stale++
		return
	}
	e.lastPage = res

	if res.Err != nil {
		e.stats.FetchFailures++
		e.notify.Notify(notice.Notice{
			Level:   notice.LevelWarning,
			Kind:    notice.KindFetchFailed,
			Message: "could not load rows",
			Err:     &SyncError{Code: ErrCodeFetchFailed, Message: res.Mode.String() + " page", Resource: e.res.Name, Version: res.Version, Err: res.Err},
		})
	} else {
		rows := make([]record.Row, len(res.Rows))
		for i, r := range res.Rows {
			r.Handle = e.handles.Generate()
			rows[i] = r
		}
		switch res.Mode {
		case pager.ModeFirst:
			e.replace(rows)
		case pager.ModeNext:
			e.grid.Append(rows)
		case pager.ModePrev:
			e.grid.UpsertByID(rows)
		}
		e.stats.Fetched += len(rows)
		e.stats.Dups += res.Dups
		if res.Regressed {
			e.stats.Regressions++
		}
	}

	if res.Stopped {
		e.stats.Stops++
		e.notify.Notify(notice.Notice{
			Level:   notice.LevelWarning,
			Kind:    notice.KindPaginationStopped,
			Message: "stopped loading more rows",
			Err:     &SyncError{Code: ErrCodePaginationStopped, Message: "walk ended early", Resource: e.res.Name, Version: res.Version, Err: res.Warning},
		})
	}
	if e.onPage != nil {
		e.onPage(res)
	}
}

// replace swaps the grid contents for a fresh first page, keeping pinned
// rows on top.
func (e *Engine) replace(rows []record.Row) {
	keep := e.pinned()
	kept := make(map[string]bool, len(keep))
	ids := make(map[int64]bool, len(keep))
	for _, r := range keep {
		kept[r.Handle] = true
		if r.Saved() {
			ids[r.ID] = true
			e.index.Add(r.ID)
		}
	}
	for _, r := range e.grid.Rows() {
		if !kept[r.Handle] {
			e.rows.Forget(r.Handle)
		}
	}

	out := keep
	for _, r := range rows {
		if ids[r.ID] {
			continue
		}
		out = append(out, r)
	}
	e.grid.SetData(out)
}

type loader struct {
	e *Engine
}

func (l loader) Loading() bool {
	return l.e.pager.Loading()
}

func (l loader) HasMore() bool {
	return l.e.pager.HasMore()
}

func (l loader) LoadMore() bool {
	return l.e.pager.Next(l.e.merge)
}

// logEventError logs an event that could not be applied. Processing
// continues with the next event.
func logEventError(ev Event, err error) {
	slog.Error("event processing failed",
		"error", err,
		"event", fmt.Sprintf("%T", ev),
	)
}
