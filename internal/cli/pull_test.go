package cli

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/journal"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/testutil"
)

func TestPull_Text(t *testing.T) {
	_, srv := partsServer(t, 3)

	out, err := execute(t, sessionArgs("pull", srv)...)
	require.NoError(t, err)

	assert.Contains(t, out, "id")
	assert.Contains(t, out, "name")
	assert.Contains(t, out, "Item 003")
	assert.Contains(t, out, "Item 001")
	assert.Contains(t, out, "3 rows in 1 pages")
	assert.Less(t, strings.Index(out, "Item 003"), strings.Index(out, "Item 001"), "parts are listed newest first")
}

func TestPull_JSONWalksEveryPage(t *testing.T) {
	fake, srv := partsServer(t, 120)

	out, err := execute(t, sessionArgs("pull", srv, "--format", "json")...)
	require.NoError(t, err)

	var result PullResult
	decodeData(t, out, &result)
	assert.Equal(t, "parts", result.Resource)
	assert.NotEmpty(t, result.Session)
	assert.Equal(t, 3, result.Pages)
	require.Len(t, result.Rows, 120)
	assert.Equal(t, int64(120), result.Rows[0].ID)
	assert.Equal(t, int64(1), result.Rows[119].ID)
	assert.Equal(t, 3, fake.Count(testutil.OpKeyset))
}

func TestPull_Keyword(t *testing.T) {
	fake, srv := partsServer(t, 30)

	out, err := execute(t, sessionArgs("pull", srv, "-q", "Item 02", "--format", "json")...)
	require.NoError(t, err)

	var result PullResult
	decodeData(t, out, &result)
	assert.Len(t, result.Rows, 10)
	assert.Contains(t, fake.CallLog()[0], "q=Item 02")
}

func TestPull_MirrorsIntoDatabase(t *testing.T) {
	_, srv := partsServer(t, 5)
	db := filepath.Join(t.TempDir(), "gridsync.db")

	out, err := execute(t, sessionArgs("pull", srv, "--db", db)...)
	require.NoError(t, err)
	assert.Contains(t, out, "5 mirrored to "+db)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	rows, err := st.ReadRows(ctx, "parts")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Item 001", rows[0].Fields["name"])

	entries, err := st.ReadEntries(ctx, store.Filter{Resource: "parts"})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, journal.KindFetch, entries[0].Kind)
	assert.Equal(t, journal.StatusOK, entries[0].Status)
}

func TestPull_Replace(t *testing.T) {
	fake, srv := partsServer(t, 5)
	db := filepath.Join(t.TempDir(), "gridsync.db")

	_, err := execute(t, sessionArgs("pull", srv, "--db", db)...)
	require.NoError(t, err)

	fake.Remove(5)
	fake.Remove(4)
	_, err = execute(t, sessionArgs("pull", srv, "--db", db, "--replace")...)
	require.NoError(t, err)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	rows, err := st.ReadRows(context.Background(), "parts")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestPull_FetchFailure(t *testing.T) {
	fake, srv := partsServer(t, 3)
	fake.FailNext(testutil.OpKeyset, testutil.StatusErr(testutil.OpKeyset, 500, "boom"))

	out, err := execute(t, sessionArgs("pull", srv)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeBackend)
	assert.Contains(t, out, "Error [E010]: pull failed")
}

func TestPull_FetchFailureJSON(t *testing.T) {
	fake, srv := partsServer(t, 3)
	fake.FailNext(testutil.OpKeyset, testutil.StatusErr(testutil.OpKeyset, 503, "down"))

	out, err := execute(t, sessionArgs("pull", srv, "--format", "json")...)
	require.Error(t, err)

	resp := decodeError(t, out)
	assert.Equal(t, ErrCodeBackend, resp.Code)
	assert.Contains(t, resp.Message, "FETCH_FAILED")
}
