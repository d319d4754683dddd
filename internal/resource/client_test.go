package resource_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/resource"
	"github.com/roach88/gridsync/internal/testutil"
)

func newClient(t *testing.T, fake *testutil.FakeBackend, opts ...resource.ClientOption) *resource.Client {
	t.Helper()
	srv := testutil.NewServer(fake, "/parts")
	t.Cleanup(srv.Close)
	c, err := resource.NewClient(srv.URL, "/parts", opts...)
	require.NoError(t, err)
	return c
}

func TestClient_KeysetWalk(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(testutil.Items(5)...)
	c := newClient(t, fake)
	ctx := context.Background()

	p, err := c.Keyset(ctx, resource.KeysetRequest{Limit: 3})
	require.NoError(t, err)
	require.Len(t, p.Items, 3)
	assert.Equal(t, int64(1), p.Items[0]["id"])
	assert.Equal(t, "Item 001", p.Items[0]["name"])
	assert.Equal(t, record.Cursor("3"), p.NextCursor)
	assert.True(t, p.HasMore)

	p, err = c.Keyset(ctx, resource.KeysetRequest{Limit: 3, Cursor: p.NextCursor})
	require.NoError(t, err)
	assert.Len(t, p.Items, 2)
	assert.False(t, p.HasMore)
	assert.True(t, p.NextCursor.IsZero())

	assert.Equal(t, []string{
		"GET /keyset limit=3",
		"GET /keyset limit=3 cursor=3",
	}, fake.CallLog())
}

func TestClient_KeysetPassesKeywordDirectionAndParams(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Path + "?" + r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[{"id":9,"price":1.5}],"next_cursor":"abc","has_more":true,"prev_cursor":9,"has_prev":true}`)
	}))
	defer srv.Close()

	c, err := resource.NewClient(srv.URL+"/api/", "parts")
	require.NoError(t, err)
	p, err := c.Keyset(context.Background(), resource.KeysetRequest{
		Limit:     10,
		Cursor:    "20",
		Keyword:   "hex nut",
		Direction: resource.Backward,
		Params:    map[string]string{"status": "open"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/parts/keyset?cursor=20&direction=prev&limit=10&q=hex+nut&status=open", got)
	assert.Equal(t, record.Cursor("abc"), p.NextCursor)
	assert.Equal(t, record.Cursor("9"), p.PrevCursor)
	assert.True(t, p.HasPrev)
	assert.Equal(t, int64(9), p.Items[0]["id"])
	assert.Equal(t, 1.5, p.Items[0]["price"])
}

func TestClient_CreateUpdateDelete(t *testing.T) {
	fake := testutil.NewFakeBackend(testutil.WithOnWrite(func(f record.Fields) {
		f["code"] = "P-1"
	}))
	c := newClient(t, fake)
	ctx := context.Background()

	created, err := c.Create(ctx, record.Fields{"name": "Bolt", "qty": int64(3)})
	require.NoError(t, err)
	assert.Equal(t, record.Fields{"id": int64(1), "name": "Bolt", "qty": int64(3), "code": "P-1"}, created)

	updated, err := c.Update(ctx, 1, record.Fields{"qty": int64(4)})
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated["qty"])

	require.NoError(t, c.Delete(ctx, 1))
	assert.Equal(t, 0, fake.Len())
}

func TestClient_UpdateMethodPut(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		_, _ = io.WriteString(w, `{"id":7}`)
	}))
	defer srv.Close()

	c, err := resource.NewClient(srv.URL, "/parts", resource.WithUpdateMethod("put"))
	require.NoError(t, err)
	_, err = c.Update(context.Background(), 7, record.Fields{"name": "A"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, method)
}

func TestClient_HeadersAndToken(t *testing.T) {
	var auth, tenant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		tenant = r.Header.Get("X-Tenant")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := resource.NewClient(srv.URL, "/parts",
		resource.WithHeader("X-Tenant", "plant-2"),
		resource.WithToken(func(context.Context) (string, error) { return "s3cret", nil }),
	)
	require.NoError(t, err)
	require.NoError(t, c.Delete(context.Background(), 3))
	assert.Equal(t, "Bearer s3cret", auth)
	assert.Equal(t, "plant-2", tenant)
}

func TestClient_StatusError(t *testing.T) {
	fake := testutil.NewFakeBackend()
	c := newClient(t, fake)

	_, err := c.Update(context.Background(), 42, record.Fields{"name": "x"})
	require.Error(t, err)
	assert.True(t, resource.IsNotFound(err))
	assert.True(t, resource.IsTerminal(err))

	fake.FailNext(testutil.OpCreate, testutil.StatusErr(testutil.OpCreate, http.StatusServiceUnavailable, "maintenance"))
	_, err = c.Create(context.Background(), record.Fields{"name": "x"})
	require.Error(t, err)
	var se *resource.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "maintenance", se.Message)
	assert.True(t, se.Temporary())
	assert.False(t, resource.IsTerminal(err))
}

func TestClient_PlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := resource.NewClient(srv.URL, "/parts")
	require.NoError(t, err)
	_, err = c.Keyset(context.Background(), resource.KeysetRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")
	assert.Equal(t, http.StatusBadGateway, resource.StatusCode(err))
}

func TestNewClient_Rejects(t *testing.T) {
	_, err := resource.NewClient("ftp://example.com", "/parts")
	assert.Error(t, err)

	_, err = resource.NewClient("http://example.com", "/parts", resource.WithUpdateMethod("POST"))
	assert.Error(t, err)
}
