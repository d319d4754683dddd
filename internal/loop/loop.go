package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by drivers once the loop has been stopped.
var ErrStopped = errors.New("loop stopped")

// Scheduler is the subset of Loop that components depend on.
//
// Every method must be called from the loop goroutine, except that
// operations passed to Go run on their own goroutine.
type Scheduler interface {
	// Go runs op off the loop and delivers its result to then on the loop.
	Go(label string, op func(ctx context.Context) (any, error), then func(any, error))
	// AfterFunc runs fn on the loop after d.
	AfterFunc(label string, d time.Duration, fn func()) *Timer
	// Post queues fn to run on the loop after the current event.
	Post(label string, fn func())
	// Now returns the clock's current time.
	Now() time.Time
}

// Await is the typed form of Scheduler.Go.
func Await[T any](s Scheduler, label string, op func(ctx context.Context) (T, error), then func(T, error)) {
	s.Go(label, func(ctx context.Context) (any, error) {
		return op(ctx)
	}, func(v any, err error) {
		var out T
		if v != nil {
			out = v.(T)
		}
		then(out, err)
	})
}

// Loop is a single-writer event loop.
//
// Thread-safety model:
//   - Post, Go, AfterFunc, Now: safe from any goroutine, but components call
//     them from the loop goroutine
//   - Run, Drain, Settle: must be called from exactly one goroutine at a time;
//     that goroutine is "the loop goroutine" for the duration of the call
//   - Timer.Stop: loop goroutine only
type Loop struct {
	queue   *eventQueue
	clock   Clock
	seq     *Seq
	ctx     context.Context
	cancel  context.CancelFunc
	pending atomic.Int64
	timers  atomic.Int64
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for timers. Default: RealClock().
func WithClock(c Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

// WithSeq sets the logical sequence used for journal ordering.
// Use NewSeqAt to resume after existing journal entries.
func WithSeq(s *Seq) Option {
	return func(l *Loop) {
		l.seq = s
	}
}

// New creates a Loop. Operations started with Go receive a context that is
// cancelled when Stop is called.
func New(opts ...Option) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		queue:  newEventQueue(),
		clock:  RealClock(),
		seq:    NewSeq(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post queues fn to run on the loop. Events posted after Stop are dropped.
func (l *Loop) Post(label string, fn func()) {
	l.post(label, fn)
}

// TryPost is Post reporting whether fn was queued.
func (l *Loop) TryPost(label string, fn func()) bool {
	return l.post(label, fn)
}

func (l *Loop) post(label string, fn func()) bool {
	ok := l.queue.Enqueue(event{Type: EventTypeCall, Label: label, Fn: fn})
	if !ok {
		slog.Debug("loop event dropped: stopped", "label", label)
	}
	return ok
}

// Go starts op on a new goroutine and queues then(result, err) on the loop
// when op returns. If the loop is stopped before op returns, then is never
// called.
func (l *Loop) Go(label string, op func(ctx context.Context) (any, error), then func(any, error)) {
	l.pending.Add(1)
	go func() {
		v, err := op(l.ctx)
		l.queue.Enqueue(event{
			Type:  EventTypeCompletion,
			Label: label,
			Fn:    func() { then(v, err) },
		})
		// Decrement only after the completion is queued so Settle never
		// observes "nothing pending" while a result is still on its way.
		// The enqueue signal may already have been consumed by a Settle that
		// then saw pending > 0, so the decrement wakes it again.
		l.pending.Add(-1)
		l.queue.Wake()
	}()
}

// AfterFunc schedules fn on the loop after d.
func (l *Loop) AfterFunc(label string, d time.Duration, fn func()) *Timer {
	t := &Timer{label: label}
	l.timers.Add(1)
	t.loop = l
	t.under = l.clock.AfterFunc(d, func() {
		l.queue.Enqueue(event{Type: EventTypeTimer, Label: label, Fn: fn, Timer: t})
	})
	return t
}

// Now returns the loop clock's time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Seq returns the loop's logical sequence.
func (l *Loop) Seq() *Seq {
	return l.seq
}

// Pending returns the number of awaited operations that have not yet
// delivered their completion to the queue.
func (l *Loop) Pending() int {
	return int(l.pending.Load())
}

// ActiveTimers returns the number of timers that have neither fired nor
// been stopped.
func (l *Loop) ActiveTimers() int {
	return int(l.timers.Load())
}

// QueueLen returns the number of queued events.
func (l *Loop) QueueLen() int {
	return l.queue.Len()
}

// Run processes events until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("loop starting")
	for {
		if ev, ok := l.queue.TryDequeue(); ok {
			l.process(ev)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("loop stopping: context cancelled")
			l.Stop()
			return ctx.Err()
		case <-l.queue.Wait():
			if l.queue.Closed() && l.queue.Len() == 0 {
				slog.Info("loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain processes queued events, including events queued while draining,
// and returns the number processed. It does not wait for in-flight
// operations.
func (l *Loop) Drain() int {
	n := 0
	for {
		ev, ok := l.queue.TryDequeue()
		if !ok {
			return n
		}
		l.process(ev)
		n++
	}
}

// Settle processes events until the queue is empty and no awaited operation
// is outstanding. Pending timers are not waited for.
func (l *Loop) Settle(ctx context.Context) error {
	for {
		l.Drain()
		if l.pending.Load() == 0 && l.queue.Len() == 0 {
			return nil
		}
		if l.queue.Closed() {
			return ErrStopped
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.queue.Wait():
		}
	}
}

// Stop cancels in-flight operation contexts and closes the queue.
func (l *Loop) Stop() {
	l.cancel()
	l.queue.Close()
}

func (l *Loop) process(ev event) {
	if ev.Type == EventTypeTimer {
		t := ev.Timer
		if t.stopped {
			slog.Debug("timer skipped: stopped", "label", ev.Label)
			return
		}
		t.fired = true
		l.timers.Add(-1)
	}
	ev.Fn()
}

// Timer is a loop-scheduled callback.
type Timer struct {
	loop    *Loop
	label   string
	under   Stopper
	stopped bool
	fired   bool
}

// Stop cancels the timer. A timer whose fire event is already queued is
// still cancelled: the loop skips stopped timers. Returns false if the timer
// already ran or was already stopped. Loop goroutine only.
func (t *Timer) Stop() bool {
	if t == nil || t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.loop.timers.Add(-1)
	if t.under != nil {
		t.under.Stop()
	}
	return true
}

// Active reports whether the timer is still scheduled.
func (t *Timer) Active() bool {
	return t != nil && !t.stopped && !t.fired
}
