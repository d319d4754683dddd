package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/gridsync/internal/engine"
	"github.com/roach88/gridsync/internal/notice"
	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/schema"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/testutil"
)

// settleTimeout bounds how long one step may take to settle.
const settleTimeout = 5 * time.Second

// Harness executes one scenario.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	fake   *testutil.FakeBackend
	clock  *testutil.FakeClock
	notes  *notice.Recorder
	gates  []*testutil.Gate
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a fake clock and
// sequential row handles so that traces are reproducible.
//
// Execution flow:
//  1. Compile the resource schema
//  2. Seed the in-memory backend
//  3. Execute steps, settling the loop after each one
//  4. Evaluate assertions against the final state
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	res, err := compileResource(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		fake:   newBackend(scenario.Backend, res),
		clock:  testutil.NewFakeClock(testutil.Epoch),
		notes:  &notice.Recorder{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	session := scenario.Session
	if session == "" {
		session = scenario.Name
	}
	h.engine = engine.New(h.fake, res,
		engine.WithClock(h.clock),
		engine.WithHandles(testutil.NewSequentialHandles("")),
		engine.WithSession(session),
		engine.WithNotifier(h.notes),
		engine.WithJournal(st),
	)
	defer h.engine.Stop()

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
		h.logger.Info("step completed", "step", i, "do", step.Do)
	}
	for _, g := range h.gates {
		g.Release()
	}
	h.gates = nil

	result, err := h.collect(ctx, session)
	if err != nil {
		return nil, err
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func compileResource(s *Scenario) (*schema.Resource, error) {
	var (
		set schema.Set
		err error
	)
	if s.Schema != "" {
		set, err = schema.CompileSource(s.Name+".cue", s.Schema)
	} else {
		set, err = schema.LoadDir(s.SchemaDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return set.Get(s.Resource)
}

func newBackend(setup BackendSetup, res *schema.Resource) *testutil.FakeBackend {
	var opts []testutil.FakeOption
	order := setup.Order
	if order == "" {
		order = string(res.Order)
	}
	if order == string(schema.OrderDesc) {
		opts = append(opts, testutil.WithDescending())
	}
	if setup.OpaqueCursors {
		opts = append(opts, testutil.WithOpaqueCursors())
	}
	if setup.PrevCursors {
		opts = append(opts, testutil.WithPrevCursors())
	}
	if res.IDField != schema.DefaultIDField {
		opts = append(opts, testutil.WithIDField(res.IDField))
	}

	fake := testutil.NewFakeBackend(opts...)
	fake.Seed(testutil.Items(setup.Items)...)
	for _, row := range setup.Rows {
		fields, err := record.NormalizeFields(row)
		if err != nil {
			continue
		}
		fake.Seed(fields)
	}
	return fake
}

// execute runs one step. While a held request is outstanding the loop is
// only drained, since settling would wait on the held call.
func (h *Harness) execute(ctx context.Context, step Step) error {
	switch step.Do {
	case StepFail:
		op, _ := parseOp(step.Op)
		msg := step.Message
		if msg == "" {
			msg = "injected failure"
		}
		if step.Status > 0 {
			h.fake.FailNext(op, testutil.StatusErr(op, step.Status, msg))
		} else {
			h.fake.FailNext(op, errors.New(msg))
		}
		return nil
	case StepHold:
		op, _ := parseOp(step.Op)
		h.gates = append(h.gates, h.fake.Hold(op))
		return nil
	case StepWait:
		g := h.held()
		if g == nil {
			return errors.New("no held request to wait for")
		}
		h.engine.Drain()
		select {
		case <-g.Arrived():
			return nil
		case <-time.After(settleTimeout):
			return errors.New("held request never reached the backend")
		case <-ctx.Done():
			return ctx.Err()
		}
	case StepRelease:
		if len(h.gates) == 0 {
			return errors.New("no held request to release")
		}
		h.gates[0].Release()
		h.gates = h.gates[1:]
		return h.settle(ctx)
	case StepAdvance:
		h.clock.Advance(step.Duration)
		return h.settle(ctx)
	}

	ev, err := h.event(step)
	if err != nil {
		return err
	}
	if err := h.engine.Apply(ev); err != nil {
		return err
	}
	return h.settle(ctx)
}

func (h *Harness) event(step Step) (engine.Event, error) {
	switch step.Do {
	case StepSearch:
		return engine.Search{Keyword: step.Keyword, Params: step.Params}, nil
	case StepLoadMore:
		return engine.LoadMore{}, nil
	case StepLoadPrev:
		return engine.LoadPrev{}, nil
	case StepSentinel:
		return engine.SentinelVisible{Visible: step.Visible}, nil
	case StepUndo:
		return engine.Undo{}, nil
	case StepRedo:
		return engine.Redo{}, nil
	case StepFlush:
		return engine.Flush{}, nil
	case StepAdd:
		fields, err := record.NormalizeFields(step.Fields)
		if err != nil {
			return nil, err
		}
		return engine.AddRow{Handle: step.Row, Fields: fields}, nil
	case StepEdit:
		handle, err := h.handle(step.Row, step.ID)
		if err != nil {
			return nil, err
		}
		v, err := record.Normalize(step.Value)
		if err != nil {
			return nil, err
		}
		return engine.CellEdited{Handle: handle, Field: step.Field, Value: v}, nil
	case StepDelete:
		handle, err := h.handle(step.Row, step.ID)
		if err != nil {
			return nil, err
		}
		return engine.DeleteRow{Handle: handle}, nil
	}
	return nil, fmt.Errorf("unknown step %q", step.Do)
}

// handle resolves a step's row reference.
func (h *Harness) handle(handle string, id int64) (string, error) {
	if handle != "" {
		return handle, nil
	}
	row, ok := h.engine.Grid().RowByID(id)
	if !ok {
		return "", fmt.Errorf("row %d is not rendered", id)
	}
	return row.Handle, nil
}

// held returns the oldest unreleased gate.
func (h *Harness) held() *testutil.Gate {
	if len(h.gates) == 0 {
		return nil
	}
	return h.gates[0]
}

func (h *Harness) settle(ctx context.Context) error {
	if len(h.gates) > 0 {
		h.engine.Drain()
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	return h.engine.Settle(ctx)
}

func (h *Harness) collect(ctx context.Context, session string) (*Result, error) {
	if err := h.settle(ctx); err != nil {
		return nil, err
	}
	entries, err := h.store.ReadEntries(ctx, store.Filter{Session: session})
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	result := NewResult()
	result.Requests = h.fake.CallLog()
	for _, e := range entries {
		result.Journal = append(result.Journal, string(e.Kind)+"/"+string(e.Status))
	}
	for _, k := range h.notes.Kinds() {
		result.Notices = append(result.Notices, string(k))
	}
	result.Rows = h.engine.Grid().Rows()
	result.States = make(map[string]string, len(result.Rows))
	for _, r := range result.Rows {
		result.States[r.Handle] = h.engine.RowState(r.Handle).String()
	}
	result.Pager = h.engine.PagerState()
	result.Quiescent = h.engine.Quiescent()
	return result, nil
}

func parseOp(s string) (testutil.Op, error) {
	switch op := testutil.Op(s); op {
	case testutil.OpKeyset, testutil.OpCreate, testutil.OpUpdate, testutil.OpDelete:
		return op, nil
	}
	return "", fmt.Errorf("op must be keyset, create, update or delete, got %q", s)
}
