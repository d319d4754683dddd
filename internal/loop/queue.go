package loop

import "sync"

// EventType distinguishes loop event kinds.
type EventType int

const (
	// EventTypeCall runs a posted closure.
	EventTypeCall EventType = iota + 1
	// EventTypeCompletion runs the continuation of an awaited operation.
	EventTypeCompletion
	// EventTypeTimer runs a timer callback unless the timer was stopped.
	EventTypeTimer
)

func (t EventType) String() string {
	switch t {
	case EventTypeCall:
		return "call"
	case EventTypeCompletion:
		return "completion"
	case EventTypeTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// event is one unit of work for the loop goroutine.
type event struct {
	Type  EventType
	Label string
	Fn    func()
	Timer *Timer
}

// eventQueue is an unbounded FIFO of events.
//
// Enqueue is safe from any goroutine (operation goroutines and clock
// callbacks post completions and timer fires). Dequeuing happens only on the
// loop goroutine. The signal channel has a buffer of one so that repeated
// enqueues coalesce into a single wakeup.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]
	// Clear the slot so the closure can be collected.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wake signals a waiter without queueing an event. No-op once closed.
func (q *eventQueue) Wake() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns the wakeup channel. It is closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further events and wakes any waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
