package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/resource"
)

// Op names a backend operation for call logs, failure injection and gates.
type Op string

const (
	OpKeyset Op = "keyset"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// DefaultLimit is the page size used when a request carries no limit.
const DefaultLimit = 50

// opaquePrefix marks cursors issued in opaque mode.
const opaquePrefix = "tok-"

// Call is one request received by a FakeBackend.
type Call struct {
	Op      Op
	ID      int64
	Request resource.KeysetRequest
	Payload record.Fields
}

// String renders the call as one request-log line:
//
//	GET /keyset limit=50 cursor=50 q=bolt
//	POST {"name":"x"}
//	PATCH /7 {"name":"AB"}
//	DELETE /7
func (c Call) String() string {
	switch c.Op {
	case OpKeyset:
		parts := []string{"GET /keyset", "limit=" + strconv.Itoa(c.Request.Limit)}
		if !c.Request.Cursor.IsZero() {
			parts = append(parts, "cursor="+c.Request.Cursor.String())
		}
		if c.Request.Keyword != "" {
			parts = append(parts, "q="+c.Request.Keyword)
		}
		if c.Request.Direction == resource.Backward {
			parts = append(parts, "direction=prev")
		}
		return strings.Join(parts, " ")
	case OpCreate:
		return "POST " + canonical(c.Payload)
	case OpUpdate:
		return fmt.Sprintf("PATCH /%d %s", c.ID, canonical(c.Payload))
	case OpDelete:
		return fmt.Sprintf("DELETE /%d", c.ID)
	}
	return string(c.Op)
}

func canonical(f record.Fields) string {
	b, err := record.MarshalCanonical(f)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

// FakeBackend is an in-memory resource.Backend over a keyset-paginated
// collection of integer-keyed items.
//
// It records every call, can fail or hold the next call of an operation, and
// can serve scripted pages in place of computed ones. Thread-safety: safe for
// concurrent use.
type FakeBackend struct {
	mu       sync.Mutex
	idField  string
	desc     bool
	opaque   bool
	withPrev bool
	items    map[int64]record.Fields
	nextID   int64
	calls    []Call
	failures map[Op][]error
	gates    map[Op][]*Gate
	scripted []resource.Page
	onWrite  func(record.Fields)
}

// FakeOption configures a FakeBackend.
type FakeOption func(*FakeBackend)

// WithDescending walks the collection by descending ID (newest first).
func WithDescending() FakeOption {
	return func(b *FakeBackend) {
		b.desc = true
	}
}

// WithOpaqueCursors issues string tokens instead of numeric-ID cursors.
func WithOpaqueCursors() FakeOption {
	return func(b *FakeBackend) {
		b.opaque = true
	}
}

// WithPrevCursors makes keyset responses report prev_cursor/has_prev.
func WithPrevCursors() FakeOption {
	return func(b *FakeBackend) {
		b.withPrev = true
	}
}

// WithIDField sets the primary-key field name. Default: "id".
func WithIDField(name string) FakeOption {
	return func(b *FakeBackend) {
		b.idField = name
	}
}

// WithOnWrite installs a hook that may rewrite an item after every create
// and update, to simulate server-side normalization and generated fields.
func WithOnWrite(fn func(record.Fields)) FakeOption {
	return func(b *FakeBackend) {
		b.onWrite = fn
	}
}

// NewFakeBackend creates an empty collection.
func NewFakeBackend(opts ...FakeOption) *FakeBackend {
	b := &FakeBackend{
		idField:  "id",
		items:    make(map[int64]record.Fields),
		nextID:   1,
		failures: make(map[Op][]error),
		gates:    make(map[Op][]*Gate),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Seed stores items without recording calls. Items lacking an ID get the
// next free one. Returns the IDs in argument order.
func (b *FakeBackend) Seed(items ...record.Fields) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		f := it.Clone()
		if f == nil {
			f = record.Fields{}
		}
		id, ok := record.IDOf(f, b.idField)
		if !ok {
			id = b.nextID
		}
		f[b.idField] = id
		b.items[id] = f
		if id >= b.nextID {
			b.nextID = id + 1
		}
		ids = append(ids, id)
	}
	return ids
}

// Items builds n items with IDs 1..n, a "name" and a "qty" field.
func Items(n int) []record.Fields {
	out := make([]record.Fields, n)
	for i := range out {
		id := int64(i + 1)
		out[i] = record.Fields{"id": id, "name": fmt.Sprintf("Item %03d", id), "qty": id}
	}
	return out
}

// Get returns a copy of the stored item.
func (b *FakeBackend) Get(id int64) (record.Fields, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.items[id]
	return f.Clone(), ok
}

// Len returns the number of stored items.
func (b *FakeBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Remove deletes an item without recording a call, simulating a change made
// by another client.
func (b *FakeBackend) Remove(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, id)
}

// Calls returns a copy of the call log.
func (b *FakeBackend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallLog returns the call log rendered one call per line.
func (b *FakeBackend) CallLog() []string {
	calls := b.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Count returns how many calls of op were received.
func (b *FakeBackend) Count(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (b *FakeBackend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// FailNext makes the next call of op return err. Calls queue up: FailNext
// twice fails the next two calls.
func (b *FakeBackend) FailNext(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], err)
}

// StatusErr builds the error a real server would produce for code.
func StatusErr(op Op, code int, msg string) error {
	return &resource.StatusError{Method: methodOf(op), URL: string(op), Code: code, Message: msg}
}

// ScriptPage queues a page returned verbatim by the next keyset call in
// place of the computed one.
func (b *FakeBackend) ScriptPage(p resource.Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripted = append(b.scripted, p)
}

// Hold makes the next call of op block until the returned gate is released
// or the caller's context is done.
func (b *FakeBackend) Hold(op Op) *Gate {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := &Gate{arrived: make(chan struct{}), release: make(chan struct{})}
	b.gates[op] = append(b.gates[op], g)
	return g
}

// Keyset implements resource.Backend.
func (b *FakeBackend) Keyset(ctx context.Context, req resource.KeysetRequest) (resource.Page, error) {
	if err := b.enter(ctx, Call{Op: OpKeyset, Request: req}); err != nil {
		return resource.Page{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.scripted) > 0 {
		p := b.scripted[0]
		b.scripted = b.scripted[1:]
		return clonePage(p), nil
	}
	return b.page(req)
}

// Create implements resource.Backend.
func (b *FakeBackend) Create(ctx context.Context, fields record.Fields) (record.Fields, error) {
	if err := b.enter(ctx, Call{Op: OpCreate, Payload: fields.Clone()}); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	item := fields.Clone()
	if item == nil {
		item = record.Fields{}
	}
	id := b.nextID
	b.nextID++
	item[b.idField] = id
	if b.onWrite != nil {
		b.onWrite(item)
	}
	b.items[id] = item
	return item.Clone(), nil
}

// Update implements resource.Backend. Fields are merged into the stored item.
func (b *FakeBackend) Update(ctx context.Context, id int64, fields record.Fields) (record.Fields, error) {
	if err := b.enter(ctx, Call{Op: OpUpdate, ID: id, Payload: fields.Clone()}); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[id]
	if !ok {
		return nil, StatusErr(OpUpdate, http.StatusNotFound, fmt.Sprintf("%d not found", id))
	}
	for k, v := range fields {
		if k == b.idField {
			continue
		}
		item[k] = v
	}
	if b.onWrite != nil {
		b.onWrite(item)
	}
	return item.Clone(), nil
}

// Delete implements resource.Backend.
func (b *FakeBackend) Delete(ctx context.Context, id int64) error {
	if err := b.enter(ctx, Call{Op: OpDelete, ID: id}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[id]; !ok {
		return StatusErr(OpDelete, http.StatusNotFound, fmt.Sprintf("%d not found", id))
	}
	delete(b.items, id)
	return nil
}

// enter records the call, then waits on a gate and consumes an injected
// failure if either is queued for the operation.
func (b *FakeBackend) enter(ctx context.Context, c Call) error {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	var gate *Gate
	if gs := b.gates[c.Op]; len(gs) > 0 {
		gate = gs[0]
		b.gates[c.Op] = gs[1:]
	}
	b.mu.Unlock()

	if gate != nil {
		if err := gate.wait(ctx); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if fs := b.failures[c.Op]; len(fs) > 0 {
		b.failures[c.Op] = fs[1:]
		return fs[0]
	}
	return nil
}

func (b *FakeBackend) page(req resource.KeysetRequest) (resource.Page, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	ids := b.sortedIDs(req.Keyword)

	// pos is the index of the first ID past the cursor in walk order; lo is
	// the index of the first ID not before it.
	pos, lo := 0, 0
	if !req.Cursor.IsZero() {
		at, err := b.decodeCursor(req.Cursor)
		if err != nil {
			return resource.Page{}, err
		}
		pos = sort.Search(len(ids), func(i int) bool { return b.follows(ids[i], at) })
		lo = sort.Search(len(ids), func(i int) bool { return !b.follows(at, ids[i]) })
	}

	var sel []int64
	var page resource.Page
	if req.Direction == resource.Backward {
		start := max(0, lo-limit)
		sel = ids[start:lo]
		page.HasPrev = start > 0
		page.HasMore = lo < len(ids)
		if page.HasMore && len(sel) > 0 {
			page.NextCursor = b.encodeCursor(sel[len(sel)-1])
		}
	} else {
		end := min(len(ids), pos+limit)
		sel = ids[pos:end]
		page.HasMore = end < len(ids)
		page.HasPrev = pos > 0
		if page.HasMore {
			page.NextCursor = b.encodeCursor(sel[len(sel)-1])
		}
	}
	if !b.withPrev || len(sel) == 0 {
		page.HasPrev = false
	}
	if page.HasPrev {
		page.PrevCursor = b.encodeCursor(sel[0])
	}

	page.Items = make([]record.Fields, len(sel))
	for i, id := range sel {
		page.Items[i] = b.items[id].Clone()
	}
	return page, nil
}

// follows reports whether id comes strictly after cursor position at.
func (b *FakeBackend) follows(id, at int64) bool {
	if b.desc {
		return id < at
	}
	return id > at
}

func (b *FakeBackend) sortedIDs(keyword string) []int64 {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	ids := make([]int64, 0, len(b.items))
	for id, item := range b.items {
		if kw != "" && !matches(item, kw) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if b.desc {
			return ids[i] > ids[j]
		}
		return ids[i] < ids[j]
	})
	return ids
}

func matches(item record.Fields, kw string) bool {
	for _, v := range item {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), kw) {
			return true
		}
	}
	return false
}

func (b *FakeBackend) encodeCursor(id int64) record.Cursor {
	if b.opaque {
		return record.Cursor(opaquePrefix + strconv.FormatInt(id, 10))
	}
	return record.CursorFromID(id)
}

func (b *FakeBackend) decodeCursor(c record.Cursor) (int64, error) {
	s := c.String()
	if b.opaque {
		rest, ok := strings.CutPrefix(s, opaquePrefix)
		if !ok {
			return 0, &resource.StatusError{Method: http.MethodGet, URL: "keyset", Code: http.StatusBadRequest, ErrCode: "bad_cursor", Message: "unknown cursor " + s}
		}
		s = rest
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &resource.StatusError{Method: http.MethodGet, URL: "keyset", Code: http.StatusBadRequest, ErrCode: "bad_cursor", Message: "unknown cursor " + s}
	}
	return id, nil
}

func clonePage(p resource.Page) resource.Page {
	out := p
	out.Items = make([]record.Fields, len(p.Items))
	for i, it := range p.Items {
		out.Items[i] = it.Clone()
	}
	return out
}

func methodOf(op Op) string {
	switch op {
	case OpKeyset:
		return http.MethodGet
	case OpCreate:
		return http.MethodPost
	case OpUpdate:
		return http.MethodPatch
	case OpDelete:
		return http.MethodDelete
	}
	return ""
}

// Gate holds one backend call until released.
type Gate struct {
	arrived     chan struct{}
	release     chan struct{}
	arriveOnce  sync.Once
	releaseOnce sync.Once
}

// Arrived is closed once the held call has reached the backend.
func (g *Gate) Arrived() <-chan struct{} {
	return g.arrived
}

// Release lets the held call proceed. Safe to call more than once.
func (g *Gate) Release() {
	g.releaseOnce.Do(func() { close(g.release) })
}

func (g *Gate) wait(ctx context.Context) error {
	g.arriveOnce.Do(func() { close(g.arrived) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
