package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/journal"
	"github.com/roach88/gridsync/internal/loop"
	"github.com/roach88/gridsync/internal/record"
)

func TestAppend_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := journal.Entry{
		Seq:      3,
		Session:  "sess-1",
		Resource: "parts",
		Kind:     journal.KindUpdate,
		Status:   journal.StatusReverted,
		Handle:   "row-7",
		RowID:    7,
		Payload:  record.Fields{"name": "AB", "qty": int64(9007199254740993), "ok": true},
		Error:    "backend down",
	}
	require.NoError(t, s.Append(ctx, e))

	got, err := s.ReadEntries(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e, got[0])
}

func TestAppend_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntry("sess-1", 1)
	require.NoError(t, s.Append(ctx, e))
	e.Status = journal.StatusFailed
	require.NoError(t, s.Append(ctx, e), "duplicate (session, seq) is ignored")

	got, err := s.ReadEntries(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, journal.StatusOK, got[0].Status)
}

func TestAppend_PayloadStoredCanonical(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntry("sess-1", 1)
	e.Payload = record.Fields{"b": int64(2), "a": "x"}
	require.NoError(t, s.Append(ctx, e))

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT payload FROM ops`).Scan(&raw))
	assert.Equal(t, `{"a":"x","b":2}`, raw)
}

func TestRecorder_WritesThroughStore(t *testing.T) {
	s := createTestStore(t)
	seq := loop.NewSeq()
	rec := journal.NewRecorder(s, seq, "sess-9", "parts")

	rec.Record(journal.Entry{Kind: journal.KindFetch, Status: journal.StatusOK, Items: 50, Fresh: 50})
	rec.Record(journal.Entry{Kind: journal.KindCreate, Status: journal.StatusOK, Handle: "row-1", RowID: 121})

	got, err := s.ReadEntries(context.Background(), Filter{Session: "sess-9"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, int64(2), got[1].Seq)
	assert.Equal(t, "parts", got[1].Resource)
	assert.Equal(t, int64(121), got[1].RowID)
}

func TestUpsertRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	n, err := s.UpsertRows(ctx, "parts", []record.Row{
		{Handle: "a", ID: 2, Fields: record.Fields{"id": int64(2), "name": "Two"}},
		{Handle: "b", ID: 1, Fields: record.Fields{"id": int64(1), "name": "One"}},
		{Handle: "draft", Fields: record.Fields{"name": "unsaved"}},
	}, at)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.UpsertRows(ctx, "parts", []record.Row{
		{ID: 2, Fields: record.Fields{"id": int64(2), "name": "Deux"}},
	}, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.ReadRows(ctx, "parts")
	require.NoError(t, err)
	assert.Equal(t, []record.Row{
		{ID: 1, Fields: record.Fields{"id": int64(1), "name": "One"}},
		{ID: 2, Fields: record.Fields{"id": int64(2), "name": "Deux"}},
	}, got)

	var pulled string
	require.NoError(t, s.db.QueryRow(`SELECT pulled FROM mirror WHERE id = 2`).Scan(&pulled))
	assert.Equal(t, "2026-01-01T10:00:00Z", pulled)
}

func TestDeleteRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRows(ctx, "parts", []record.Row{{ID: 1, Fields: record.Fields{"id": int64(1)}}}, time.Now())
	require.NoError(t, err)
	_, err = s.UpsertRows(ctx, "bins", []record.Row{{ID: 1, Fields: record.Fields{"id": int64(1)}}}, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.DeleteRows(ctx, "parts"))
	parts, err := s.ReadRows(ctx, "parts")
	require.NoError(t, err)
	assert.Empty(t, parts)
	bins, err := s.ReadRows(ctx, "bins")
	require.NoError(t, err)
	assert.Len(t, bins, 1)
}
