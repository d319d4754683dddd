package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/record"
)

func row(handle string, id int64, name string) record.Row {
	return record.Row{Handle: handle, ID: id, Fields: record.Fields{"id": id, "name": name}}
}

func handles(t *Table) []string {
	var out []string
	for _, r := range t.Rows() {
		out = append(out, r.Handle)
	}
	return out
}

func TestTable_MergeCommands(t *testing.T) {
	tb := NewTable(0)
	tb.SetData([]record.Row{row("a", 1, "A"), row("b", 2, "B")})
	tb.Append([]record.Row{row("c", 3, "C")})
	tb.UpsertByID([]record.Row{row("x", 2, "B2"), row("z", 9, "Z"), row("y", 8, "Y")})

	assert.Equal(t, []string{"z", "y", "a", "b", "c"}, handles(tb))
	b, ok := tb.Row("b")
	require.True(t, ok)
	assert.Equal(t, "B2", b.Fields["name"], "existing ID updated in place")
	assert.Equal(t, []string{"setData 2", "append 1", "upsert 3"}, tb.Merges())
}

func TestTable_SetDataClearsHistory(t *testing.T) {
	tb := NewTable(0)
	tb.SetData([]record.Row{row("a", 1, "A")})
	tb.Record(Change{Handle: "a", Field: "name", Old: "A", New: "A1"})

	tb.SetData([]record.Row{row("b", 2, "B")})
	u, r := tb.HistoryLen()
	assert.Zero(t, u)
	assert.Zero(t, r)
}

func TestTable_CellsAndIDs(t *testing.T) {
	tb := NewTable(0)
	tb.Insert(record.Row{Handle: "new"})
	tb.Insert(row("top", 5, "T"))
	assert.Equal(t, []string{"top", "new"}, handles(tb))

	require.NoError(t, tb.SetCell("new", "name", "N"))
	require.NoError(t, tb.AssignID("new", 6))
	got, ok := tb.RowByID(6)
	require.True(t, ok)
	assert.Equal(t, "new", got.Handle)
	assert.Equal(t, "N", got.Fields["name"])

	assert.Error(t, tb.AssignID("new", 5), "ID already rendered by another row")
	assert.ErrorIs(t, tb.SetCell("missing", "name", "x"), ErrNoRow)

	require.NoError(t, tb.ReplaceFields("top", record.Fields{"id": int64(5), "name": "T2"}))
	got, _ = tb.Row("top")
	assert.Equal(t, "T2", got.Fields["name"])
}

func TestTable_RowIsACopy(t *testing.T) {
	tb := NewTable(0)
	tb.Insert(row("a", 1, "A"))
	r, _ := tb.Row("a")
	r.Fields["name"] = "mutated"

	again, _ := tb.Row("a")
	assert.Equal(t, "A", again.Fields["name"])
}

func TestTable_UndoRedo(t *testing.T) {
	tb := NewTable(0)
	tb.Insert(row("a", 1, "A"))

	require.NoError(t, tb.SetCell("a", "name", "A1"))
	c1 := tb.Record(Change{Handle: "a", Field: "name", Old: "A", New: "A1"})
	require.NoError(t, tb.SetCell("a", "name", "A2"))
	c2 := tb.Record(Change{Handle: "a", Field: "name", Old: "A1", New: "A2"})
	assert.Less(t, c1.Seq, c2.Seq)

	got, ok := tb.Undo()
	require.True(t, ok)
	assert.Equal(t, c2, got)
	r, _ := tb.Row("a")
	assert.Equal(t, "A1", r.Fields["name"])

	peek, ok := tb.PeekRedo()
	require.True(t, ok)
	assert.Equal(t, c2.Seq, peek.Seq)

	got, ok = tb.Redo()
	require.True(t, ok)
	assert.Equal(t, c2, got)
	r, _ = tb.Row("a")
	assert.Equal(t, "A2", r.Fields["name"])

	_, ok = tb.Redo()
	assert.False(t, ok)
}

func TestTable_RecordClearsRedo(t *testing.T) {
	tb := NewTable(0)
	tb.Insert(row("a", 1, "A"))
	tb.Record(Change{Handle: "a", Field: "name", Old: "A", New: "B"})
	tb.Undo()
	tb.Record(Change{Handle: "a", Field: "name", Old: "A", New: "C"})

	_, ok := tb.PeekRedo()
	assert.False(t, ok)
}

func TestTable_HistoryLimit(t *testing.T) {
	tb := NewTable(2)
	tb.Insert(row("a", 1, "A"))
	for i := 0; i < 5; i++ {
		tb.Record(Change{Handle: "a", Field: "qty", Old: i, New: i + 1})
	}
	u, _ := tb.HistoryLen()
	assert.Equal(t, 2, u)
}

func TestTable_RemoveDropsHistory(t *testing.T) {
	tb := NewTable(0)
	tb.Insert(row("a", 1, "A"))
	tb.Insert(row("b", 2, "B"))
	tb.Record(Change{Handle: "a", Field: "name", Old: "A", New: "A1"})
	tb.Record(Change{Handle: "b", Field: "name", Old: "B", New: "B1"})

	assert.True(t, tb.Remove("a"))
	assert.False(t, tb.Remove("a"))
	assert.Equal(t, []string{"b"}, handles(tb))

	c, ok := tb.PeekUndo()
	require.True(t, ok)
	assert.Equal(t, "b", c.Handle)
	u, _ := tb.HistoryLen()
	assert.Equal(t, 1, u)
}
