package loop

import (
	"sync/atomic"
	"time"
)

// Stopper cancels a scheduled callback.
type Stopper interface {
	// Stop prevents the callback from firing. Returns false if it already
	// fired or was already stopped.
	Stop() bool
}

// Clock is the time source for timers and cooldowns.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Seq is a monotonic logical clock for ordering journal entries.
//
// Thread-safety: safe for concurrent use, although in practice only the
// loop goroutine calls Next.
type Seq struct {
	seq atomic.Int64
}

// NewSeq creates a sequence starting at 0. The first Next returns 1.
func NewSeq() *Seq {
	return &Seq{}
}

// NewSeqAt creates a sequence resuming after start.
// Used when a journal already holds entries up to start.
func NewSeqAt(start int64) *Seq {
	s := &Seq{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Seq) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number.
func (s *Seq) Current() int64 {
	return s.seq.Load()
}
