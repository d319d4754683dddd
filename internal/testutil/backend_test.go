package testutil

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/resource"
)

func ids(t *testing.T, p resource.Page) []int64 {
	t.Helper()
	out := make([]int64, len(p.Items))
	for i, it := range p.Items {
		id, ok := record.IDOf(it, "id")
		require.True(t, ok)
		out[i] = id
	}
	return out
}

func TestFakeBackend_KeysetAscending(t *testing.T) {
	b := NewFakeBackend()
	b.Seed(Items(5)...)
	ctx := context.Background()

	p, err := b.Keyset(ctx, resource.KeysetRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(t, p))
	assert.True(t, p.HasMore)
	assert.Equal(t, record.Cursor("2"), p.NextCursor)

	p, err = b.Keyset(ctx, resource.KeysetRequest{Limit: 2, Cursor: p.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, ids(t, p))

	p, err = b.Keyset(ctx, resource.KeysetRequest{Limit: 2, Cursor: p.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids(t, p))
	assert.False(t, p.HasMore)
	assert.True(t, p.NextCursor.IsZero())
}

func TestFakeBackend_KeysetDescending(t *testing.T) {
	b := NewFakeBackend(WithDescending())
	b.Seed(Items(5)...)

	p, err := b.Keyset(context.Background(), resource.KeysetRequest{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4, 3}, ids(t, p))
	assert.Equal(t, record.Cursor("3"), p.NextCursor)

	p, err = b.Keyset(context.Background(), resource.KeysetRequest{Limit: 3, Cursor: "3"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids(t, p))
	assert.False(t, p.HasMore)
}

func TestFakeBackend_KeysetCursorMissingFromCollection(t *testing.T) {
	b := NewFakeBackend()
	b.Seed(Items(10)...)
	b.Remove(4)

	p, err := b.Keyset(context.Background(), resource.KeysetRequest{Limit: 3, Cursor: "4"})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 7}, ids(t, p))
}

func TestFakeBackend_KeysetKeyword(t *testing.T) {
	b := NewFakeBackend()
	b.Seed(
		record.Fields{"name": "Hex Bolt"},
		record.Fields{"name": "Washer"},
		record.Fields{"name": "Carriage BOLT"},
	)
	p, err := b.Keyset(context.Background(), resource.KeysetRequest{Keyword: "bolt"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(t, p))
}

func TestFakeBackend_KeysetPrev(t *testing.T) {
	b := NewFakeBackend(WithPrevCursors())
	b.Seed(Items(10)...)
	ctx := context.Background()

	p, err := b.Keyset(ctx, resource.KeysetRequest{Limit: 3, Cursor: "5"})
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 7, 8}, ids(t, p))
	assert.True(t, p.HasPrev)
	assert.Equal(t, record.Cursor("6"), p.PrevCursor)

	p, err = b.Keyset(ctx, resource.KeysetRequest{Limit: 3, Cursor: "6", Direction: resource.Backward})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, ids(t, p))
	assert.True(t, p.HasPrev)
	assert.Equal(t, record.Cursor("3"), p.PrevCursor)

	p, err = b.Keyset(ctx, resource.KeysetRequest{Limit: 3, Cursor: "3", Direction: resource.Backward})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(t, p))
	assert.False(t, p.HasPrev)
	assert.True(t, p.PrevCursor.IsZero())
}

func TestFakeBackend_OpaqueCursors(t *testing.T) {
	b := NewFakeBackend(WithOpaqueCursors())
	b.Seed(Items(3)...)
	ctx := context.Background()

	p, err := b.Keyset(ctx, resource.KeysetRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, record.Cursor("tok-2"), p.NextCursor)

	_, err = b.Keyset(ctx, resource.KeysetRequest{Limit: 2, Cursor: "2"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resource.StatusCode(err))
}

func TestFakeBackend_CreateUpdateDelete(t *testing.T) {
	b := NewFakeBackend(WithOnWrite(func(f record.Fields) {
		if name, ok := f["name"].(string); ok {
			f["code"] = "C-" + name
		}
	}))
	ctx := context.Background()

	created, err := b.Create(ctx, record.Fields{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, record.Fields{"id": int64(1), "name": "x", "code": "C-x"}, created)

	updated, err := b.Update(ctx, 1, record.Fields{"name": "y"})
	require.NoError(t, err)
	assert.Equal(t, "C-y", updated["code"])

	_, err = b.Update(ctx, 99, record.Fields{"name": "z"})
	assert.True(t, resource.IsNotFound(err))

	require.NoError(t, b.Delete(ctx, 1))
	assert.Equal(t, 0, b.Len())
	assert.True(t, resource.IsNotFound(b.Delete(ctx, 1)))

	assert.Equal(t, []string{
		`POST {"name":"x"}`,
		`PATCH /1 {"name":"y"}`,
		`PATCH /99 {"name":"z"}`,
		`DELETE /1`,
		`DELETE /1`,
	}, b.CallLog())
}

func TestFakeBackend_SeedAssignsIDs(t *testing.T) {
	b := NewFakeBackend()
	got := b.Seed(record.Fields{"id": int64(10)}, record.Fields{"name": "next"})
	assert.Equal(t, []int64{10, 11}, got)

	created, err := b.Create(context.Background(), record.Fields{})
	require.NoError(t, err)
	assert.Equal(t, int64(12), created["id"])
}

func TestFakeBackend_FailNextQueues(t *testing.T) {
	b := NewFakeBackend()
	b.Seed(Items(1)...)
	boom := errors.New("boom")
	b.FailNext(OpUpdate, boom)
	b.FailNext(OpUpdate, StatusErr(OpUpdate, http.StatusServiceUnavailable, "down"))
	ctx := context.Background()

	_, err := b.Update(ctx, 1, record.Fields{"qty": int64(2)})
	assert.ErrorIs(t, err, boom)
	_, err = b.Update(ctx, 1, record.Fields{"qty": int64(2)})
	assert.Equal(t, http.StatusServiceUnavailable, resource.StatusCode(err))
	_, err = b.Update(ctx, 1, record.Fields{"qty": int64(2)})
	assert.NoError(t, err)
	assert.Equal(t, 3, b.Count(OpUpdate))
}

func TestFakeBackend_ScriptPage(t *testing.T) {
	b := NewFakeBackend()
	b.Seed(Items(3)...)
	b.ScriptPage(resource.Page{Items: []record.Fields{{"id": int64(1)}}, NextCursor: "1", HasMore: true})

	p, err := b.Keyset(context.Background(), resource.KeysetRequest{Limit: 2, Cursor: "2"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(t, p))

	p, err = b.Keyset(context.Background(), resource.KeysetRequest{Limit: 2, Cursor: "2"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(t, p))
}

func TestFakeBackend_Hold(t *testing.T) {
	b := NewFakeBackend()
	gate := b.Hold(OpCreate)

	done := make(chan error, 1)
	go func() {
		_, err := b.Create(context.Background(), record.Fields{"name": "x"})
		done <- err
	}()

	select {
	case <-gate.Arrived():
	case <-time.After(5 * time.Second):
		t.Fatal("call never reached the gate")
	}
	assert.Equal(t, 0, b.Len())

	gate.Release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, b.Len())
}

func TestFakeBackend_HoldHonorsContext(t *testing.T) {
	b := NewFakeBackend()
	b.Hold(OpKeyset)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Keyset(ctx, resource.KeysetRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCall_String(t *testing.T) {
	c := Call{Op: OpKeyset, Request: resource.KeysetRequest{Limit: 50, Cursor: "50", Keyword: "nut", Direction: resource.Backward}}
	assert.Equal(t, "GET /keyset limit=50 cursor=50 q=nut direction=prev", c.String())
}
