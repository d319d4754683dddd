// Package loop implements the single-writer event loop every gridsync
// session runs on.
//
// ARCHITECTURE:
//
// All session state (grid rows, pager cursor, pending-operation ledger,
// trigger flags) is mutated from exactly one goroutine: the one draining the
// loop's FIFO queue. Nothing else touches that state, so no mutexes guard it.
//
// Three kinds of events reach the queue:
//   - calls: closures posted by callers (user input, scroll signals)
//   - completions: continuations of operations started with Await; the
//     operation itself runs on its own goroutine, only its continuation runs
//     on the loop
//   - timers: callbacks scheduled with AfterFunc
//
// Suspension therefore happens only at Await boundaries. Between two events
// every state change is synchronous, which is what makes guard flags such as
// "loading" or "in flight" race-free.
//
// DRIVERS:
//
//   - Run blocks and processes events until the context is cancelled or Stop
//     is called. Production sessions use Run.
//   - Drain processes whatever is queued right now and returns. Tests use it
//     to observe intermediate states while an operation is still in flight.
//   - Settle processes events until the queue is empty and no awaited
//     operation is outstanding. Timers are not waited for; advance the clock.
//
// TIME:
//
// Timers go through the Clock interface so tests can substitute a manual
// clock. Seq is a separate logical clock used only for ordering journal
// entries; wall time never orders events.
package loop
