// Package dedup tracks which primary keys are already rendered so that
// overlapping keyset pages never produce duplicate grid rows.
package dedup

import "github.com/roach88/gridsync/internal/record"

// Index is the set of merged row IDs plus the extent of the walk: the
// smallest and largest ID that came back through Filter.
//
// Membership and extent are separate. IDs added directly (created rows,
// rows pinned across a reset) block duplicates but never move the extent,
// because the walk has not fetched anything around them.
//
// Rows with record.NoID are never indexed. Loop goroutine only.
type Index struct {
	ids  map[int64]struct{}
	seen bool
	min  int64
	max  int64
}

// New creates an empty index.
func New() *Index {
	return &Index{ids: make(map[int64]struct{})}
}

// Filter returns the rows whose IDs are not yet indexed and indexes them.
// Duplicates inside rows itself are also dropped. Unsaved rows pass through.
func (x *Index) Filter(rows []record.Row) (fresh []record.Row, dups int) {
	fresh = make([]record.Row, 0, len(rows))
	for _, r := range rows {
		if !r.Saved() {
			fresh = append(fresh, r)
			continue
		}
		if x.Has(r.ID) {
			dups++
			continue
		}
		x.Add(r.ID)
		x.extend(r.ID)
		fresh = append(fresh, r)
	}
	return fresh, dups
}

// Add indexes id. Returns false if it was already present or is NoID.
func (x *Index) Add(id int64) bool {
	if id == record.NoID {
		return false
	}
	if _, ok := x.ids[id]; ok {
		return false
	}
	x.ids[id] = struct{}{}
	return true
}

func (x *Index) extend(id int64) {
	if !x.seen || id < x.min {
		x.min = id
	}
	if !x.seen || id > x.max {
		x.max = id
	}
	x.seen = true
}

// Remove drops id from the set. Min and max keep the historical extremes:
// they describe how far the walk has progressed, not what is on screen.
func (x *Index) Remove(id int64) {
	delete(x.ids, id)
}

// Has reports whether id is indexed.
func (x *Index) Has(id int64) bool {
	_, ok := x.ids[id]
	return ok
}

// Len returns the number of indexed IDs.
func (x *Index) Len() int {
	return len(x.ids)
}

// Min returns the smallest ID fetched by the walk since the last reset.
func (x *Index) Min() (int64, bool) {
	if !x.seen {
		return 0, false
	}
	return x.min, true
}

// Max returns the largest ID fetched by the walk since the last reset.
func (x *Index) Max() (int64, bool) {
	if !x.seen {
		return 0, false
	}
	return x.max, true
}

// Reset clears the index and seeds it with ids (rows that stay rendered
// across a reset, e.g. rows with pending writes). Seeded IDs leave the
// extent empty.
func (x *Index) Reset(seed ...int64) {
	x.ids = make(map[int64]struct{}, len(seed))
	x.seen, x.min, x.max = false, 0, 0
	for _, id := range seed {
		x.Add(id)
	}
}
