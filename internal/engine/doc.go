// Package engine composes one grid session: a single-writer loop owning the
// pager, the infinite-scroll trigger, the row sync controller and the
// history reconciler for one resource.
//
// Data flow:
//
//	trigger -> pager -> dedup -> grid merge -> edits -> rowsync -> backend
//
// First pages replace the grid (SetData), next pages append, prev pages
// upsert by ID. A re-search keeps rows with pending work rendered so their
// operations finish before the row can disappear.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Apply(), Walk(), Find(), Settle(): only when Run is not active; the
//     caller's goroutine acts as the loop goroutine
//   - Every component runs on the loop goroutine; none takes a lock
package engine
