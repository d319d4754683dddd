package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/gridsync/internal/journal"
	"github.com/roach88/gridsync/internal/record"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry creates a fetch entry with minimal required fields.
func createTestEntry(session string, seq int64) journal.Entry {
	return journal.Entry{
		Seq:      seq,
		Session:  session,
		Resource: "parts",
		Kind:     journal.KindFetch,
		Status:   journal.StatusOK,
		Version:  1,
		Cursor:   record.CursorFromID(50),
		Items:    50,
		Fresh:    50,
	}
}
