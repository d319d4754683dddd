package grid

import (
	"fmt"
	"log/slog"

	"github.com/roach88/gridsync/internal/record"
)

// DefaultHistoryLimit bounds the undo stack of a Table.
const DefaultHistoryLimit = 100

// Table is an in-memory Grid. Loop goroutine only.
type Table struct {
	order  []string
	rows   map[string]*record.Row
	undo   []Change
	redo   []Change
	seq    int64
	limit  int
	merges []string
}

// NewTable creates an empty table keeping at most historyLimit undo entries
// (DefaultHistoryLimit when <= 0).
func NewTable(historyLimit int) *Table {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Table{rows: make(map[string]*record.Row), limit: historyLimit}
}

func (t *Table) Row(handle string) (record.Row, bool) {
	r, ok := t.rows[handle]
	if !ok {
		return record.Row{}, false
	}
	return r.Clone(), true
}

func (t *Table) RowByID(id int64) (record.Row, bool) {
	if id == record.NoID {
		return record.Row{}, false
	}
	for _, h := range t.order {
		if r := t.rows[h]; r.ID == id {
			return r.Clone(), true
		}
	}
	return record.Row{}, false
}

func (t *Table) Rows() []record.Row {
	out := make([]record.Row, len(t.order))
	for i, h := range t.order {
		out[i] = t.rows[h].Clone()
	}
	return out
}

func (t *Table) Len() int {
	return len(t.order)
}

func (t *Table) SetCell(handle, field string, v any) error {
	r, ok := t.rows[handle]
	if !ok {
		return fmt.Errorf("set %s.%s: %w", handle, field, ErrNoRow)
	}
	if r.Fields == nil {
		r.Fields = record.Fields{}
	}
	r.Fields[field] = v
	return nil
}

func (t *Table) ReplaceFields(handle string, f record.Fields) error {
	r, ok := t.rows[handle]
	if !ok {
		return fmt.Errorf("replace %s: %w", handle, ErrNoRow)
	}
	r.Fields = f.Clone()
	return nil
}

func (t *Table) AssignID(handle string, id int64) error {
	r, ok := t.rows[handle]
	if !ok {
		return fmt.Errorf("assign id %d to %s: %w", id, handle, ErrNoRow)
	}
	if other, ok := t.RowByID(id); ok && other.Handle != handle {
		return fmt.Errorf("assign id %d to %s: already rendered as %s", id, handle, other.Handle)
	}
	r.ID = id
	return nil
}

// SetData replaces every row. History is cleared: its entries refer to rows
// that may no longer exist.
func (t *Table) SetData(rows []record.Row) {
	t.order = t.order[:0]
	t.rows = make(map[string]*record.Row, len(rows))
	t.undo, t.redo = nil, nil
	for _, r := range rows {
		t.add(r, false)
	}
	t.merges = append(t.merges, fmt.Sprintf("setData %d", len(rows)))
}

func (t *Table) Append(rows []record.Row) {
	for _, r := range rows {
		t.add(r, false)
	}
	t.merges = append(t.merges, fmt.Sprintf("append %d", len(rows)))
}

func (t *Table) UpsertByID(rows []record.Row) {
	var top []string
	for _, r := range rows {
		if existing, ok := t.RowByID(r.ID); ok {
			t.rows[existing.Handle].Fields = r.Fields.Clone()
			continue
		}
		if _, ok := t.rows[r.Handle]; ok {
			slog.Warn("upsert: handle already rendered", "handle", r.Handle)
			continue
		}
		c := r.Clone()
		t.rows[c.Handle] = &c
		top = append(top, c.Handle)
	}
	t.order = append(top, t.order...)
	t.merges = append(t.merges, fmt.Sprintf("upsert %d", len(rows)))
}

func (t *Table) Insert(row record.Row) {
	t.add(row, true)
}

func (t *Table) add(r record.Row, top bool) {
	if _, ok := t.rows[r.Handle]; ok {
		slog.Warn("grid: handle already rendered", "handle", r.Handle)
		return
	}
	c := r.Clone()
	if c.Fields == nil {
		c.Fields = record.Fields{}
	}
	t.rows[c.Handle] = &c
	if top {
		t.order = append([]string{c.Handle}, t.order...)
	} else {
		t.order = append(t.order, c.Handle)
	}
}

// Remove drops the row and every history entry that refers to it.
func (t *Table) Remove(handle string) bool {
	if _, ok := t.rows[handle]; !ok {
		return false
	}
	delete(t.rows, handle)
	for i, h := range t.order {
		if h == handle {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.undo = dropHandle(t.undo, handle)
	t.redo = dropHandle(t.redo, handle)
	return true
}

func dropHandle(cs []Change, handle string) []Change {
	out := cs[:0]
	for _, c := range cs {
		if c.Handle != handle {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) Record(c Change) Change {
	t.seq++
	c.Seq = t.seq
	t.undo = append(t.undo, c)
	if len(t.undo) > t.limit {
		t.undo = t.undo[len(t.undo)-t.limit:]
	}
	t.redo = nil
	return c
}

func (t *Table) Undo() (Change, bool) {
	c, ok := t.PeekUndo()
	if !ok {
		return Change{}, false
	}
	t.undo = t.undo[:len(t.undo)-1]
	if err := t.SetCell(c.Handle, c.Field, c.Old); err != nil {
		return Change{}, false
	}
	t.redo = append(t.redo, c)
	return c, true
}

func (t *Table) Redo() (Change, bool) {
	c, ok := t.PeekRedo()
	if !ok {
		return Change{}, false
	}
	t.redo = t.redo[:len(t.redo)-1]
	if err := t.SetCell(c.Handle, c.Field, c.New); err != nil {
		return Change{}, false
	}
	t.undo = append(t.undo, c)
	return c, true
}

func (t *Table) PeekUndo() (Change, bool) {
	if len(t.undo) == 0 {
		return Change{}, false
	}
	return t.undo[len(t.undo)-1], true
}

func (t *Table) PeekRedo() (Change, bool) {
	if len(t.redo) == 0 {
		return Change{}, false
	}
	return t.redo[len(t.redo)-1], true
}

// Merges returns the merge commands received so far, e.g. "append 50".
func (t *Table) Merges() []string {
	out := make([]string, len(t.merges))
	copy(out, t.merges)
	return out
}

// HistoryLen returns the sizes of the undo and redo stacks.
func (t *Table) HistoryLen() (undo, redo int) {
	return len(t.undo), len(t.redo)
}
