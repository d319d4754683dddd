// Package trigger decides when an infinite-scroll grid should load more rows.
//
// Three signals feed it: the bottom sentinel entering the viewport, scroll
// positions near the bottom, and a fixed-interval poll that re-checks the
// last known state for containers where the first two are unreliable. All
// three go through one guarded entry point, so redundant signals cost a
// recomputation, never a duplicate fetch.
package trigger

import (
	"log/slog"
	"time"

	"github.com/roach88/gridsync/internal/loop"
)

// Defaults.
const (
	DefaultThreshold    = 200.0
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultCooldown     = 400 * time.Millisecond
)

// Source names a signal.
type Source string

const (
	SourceSentinel Source = "sentinel"
	SourceScroll   Source = "scroll"
	SourcePoll     Source = "poll"
	SourceManual   Source = "manual"
)

// Reason is why a request was suppressed.
type Reason string

const (
	ReasonLoading   Reason = "loading"
	ReasonExhausted Reason = "exhausted"
	ReasonCooldown  Reason = "cooldown"
	ReasonNoop      Reason = "noop"
)

// Viewport is the scroll container geometry, in pixels.
type Viewport struct {
	ScrollTop    float64
	ClientHeight float64
	ScrollHeight float64
}

// NearBottom reports whether the visible area ends within threshold of the
// content's end. A container that cannot scroll is always near the bottom.
func (v Viewport) NearBottom(threshold float64) bool {
	if v.ScrollHeight <= v.ClientHeight {
		return true
	}
	return v.ScrollTop+v.ClientHeight >= v.ScrollHeight-threshold
}

// Loader is what the trigger asks for more rows.
type Loader interface {
	Loading() bool
	HasMore() bool
	// LoadMore starts a fetch and reports whether one was started.
	LoadMore() bool
}

// Stats counts what the trigger saw and did.
type Stats struct {
	Signals    map[Source]int
	Requests   int
	Coalesced  int
	Suppressed map[Reason]int
}

// Trigger is the infinite-scroll trigger. Loop goroutine only.
type Trigger struct {
	sched  loop.Scheduler
	loader Loader

	threshold    float64
	pollInterval time.Duration
	cooldown     time.Duration

	sentinel     bool
	viewport     Viewport
	haveViewport bool

	queued      bool
	requested   bool
	lastRequest time.Time
	poll        *loop.Timer

	stats Stats
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithThreshold sets the near-bottom distance in pixels.
func WithThreshold(px float64) Option {
	return func(t *Trigger) {
		t.threshold = px
	}
}

// WithPollInterval sets the fallback poll period. Zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(t *Trigger) {
		t.pollInterval = d
	}
}

// WithCooldown sets the minimum time between two requests.
func WithCooldown(d time.Duration) Option {
	return func(t *Trigger) {
		t.cooldown = d
	}
}

// New creates a trigger for loader.
func New(sched loop.Scheduler, loader Loader, opts ...Option) *Trigger {
	t := &Trigger{
		sched:        sched,
		loader:       loader,
		threshold:    DefaultThreshold,
		pollInterval: DefaultPollInterval,
		cooldown:     DefaultCooldown,
		stats: Stats{
			Signals:    make(map[Source]int),
			Suppressed: make(map[Reason]int),
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SentinelVisible reports the bottom sentinel's intersection state.
func (t *Trigger) SentinelVisible(visible bool) {
	t.stats.Signals[SourceSentinel]++
	t.sentinel = visible
	if visible {
		t.signal(SourceSentinel)
	}
}

// Scrolled reports a new scroll position.
func (t *Trigger) Scrolled(v Viewport) {
	t.stats.Signals[SourceScroll]++
	t.viewport, t.haveViewport = v, true
	if v.NearBottom(t.threshold) {
		t.signal(SourceScroll)
	}
}

// Request asks for more rows explicitly (a "load more" button).
func (t *Trigger) Request() {
	t.stats.Signals[SourceManual]++
	t.signal(SourceManual)
}

// Start begins the fallback poll. Calling Start twice is harmless.
func (t *Trigger) Start() {
	if t.pollInterval <= 0 || t.poll.Active() {
		return
	}
	t.schedulePoll()
}

// Stop ends the fallback poll.
func (t *Trigger) Stop() {
	t.poll.Stop()
	t.poll = nil
}

// Stats returns a copy of the counters.
func (t *Trigger) Stats() Stats {
	out := Stats{
		Signals:    make(map[Source]int, len(t.stats.Signals)),
		Requests:   t.stats.Requests,
		Coalesced:  t.stats.Coalesced,
		Suppressed: make(map[Reason]int, len(t.stats.Suppressed)),
	}
	for k, v := range t.stats.Signals {
		out.Signals[k] = v
	}
	for k, v := range t.stats.Suppressed {
		out.Suppressed[k] = v
	}
	return out
}

func (t *Trigger) schedulePoll() {
	t.poll = t.sched.AfterFunc("trigger poll", t.pollInterval, func() {
		t.stats.Signals[SourcePoll]++
		if t.sentinel || (t.haveViewport && t.viewport.NearBottom(t.threshold)) {
			t.signal(SourcePoll)
		}
		t.schedulePoll()
	})
}

// signal queues one guarded request on the loop. Signals arriving while a
// request is queued fold into it.
func (t *Trigger) signal(src Source) {
	if t.queued {
		t.stats.Coalesced++
		return
	}
	t.queued = true
	t.sched.Post("trigger "+string(src), func() {
		t.queued = false
		t.request(src)
	})
}

func (t *Trigger) request(src Source) {
	now := t.sched.Now()
	switch {
	case t.loader.Loading():
		t.suppress(src, ReasonLoading)
	case !t.loader.HasMore():
		t.suppress(src, ReasonExhausted)
	case t.requested && now.Sub(t.lastRequest) < t.cooldown:
		t.suppress(src, ReasonCooldown)
	default:
		if !t.loader.LoadMore() {
			t.suppress(src, ReasonNoop)
			return
		}
		t.requested, t.lastRequest = true, now
		t.stats.Requests++
		slog.Debug("load more requested", "source", src)
	}
}

func (t *Trigger) suppress(src Source, r Reason) {
	t.stats.Suppressed[r]++
	slog.Debug("load more suppressed", "source", src, "reason", r)
}
