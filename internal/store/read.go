package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/gridsync/internal/journal"
	"github.com/roach88/gridsync/internal/record"
)

// Filter narrows ReadEntries. Zero fields match everything.
type Filter struct {
	Session  string
	Resource string
	Kind     journal.Kind
	RowID    int64
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Session != "" {
		conds = append(conds, "session = ?")
		args = append(args, f.Session)
	}
	if f.Resource != "" {
		conds = append(conds, "resource = ?")
		args = append(args, f.Resource)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.RowID != 0 {
		conds = append(conds, "row_id = ?")
		args = append(args, f.RowID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// ReadEntries returns journal entries matching f.
// Results are ordered deterministically: ORDER BY session ASC COLLATE BINARY, seq ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadEntries(ctx context.Context, f Filter) ([]journal.Entry, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, seq, resource, kind, status, handle, row_id, version, cursor, items, fresh, payload, error
		FROM ops
		`+where+`
		ORDER BY session COLLATE BINARY ASC, seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}
	defer rows.Close()

	entries := []journal.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (journal.Entry, error) {
	var e journal.Entry
	var kind, status, cursor, payload string
	if err := rows.Scan(
		&e.Session, &e.Seq, &e.Resource, &kind, &status, &e.Handle,
		&e.RowID, &e.Version, &cursor, &e.Items, &e.Fresh, &payload, &e.Error,
	); err != nil {
		return journal.Entry{}, fmt.Errorf("scan op: %w", err)
	}
	e.Kind = journal.Kind(kind)
	e.Status = journal.Status(status)
	e.Cursor = record.Cursor(cursor)

	fields, err := unmarshalFields(payload)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("op %s/%d: %w", e.Session, e.Seq, err)
	}
	if len(fields) > 0 {
		e.Payload = fields
	}
	return e, nil
}

// Sessions returns the distinct session IDs in the journal, oldest first
// by their first entry's rowid.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session FROM ops
		GROUP BY session
		ORDER BY MIN(rowid) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// StatusCounts returns "kind/status" -> count for entries matching f.
func (s *Store) StatusCounts(ctx context.Context, f Filter) (map[string]int, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, status, COUNT(*) FROM ops
		`+where+`
		GROUP BY kind, status
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind, status string
		var n int
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[kind+"/"+status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return out, nil
}

// ReadRows returns the mirrored rows of resource ordered by ID.
// Handles are left empty.
func (s *Store) ReadRows(ctx context.Context, resource string) ([]record.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fields FROM mirror
		WHERE resource = ?
		ORDER BY id ASC
	`, resource)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	out := []record.Row{}
	for rows.Next() {
		var id int64
		var data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		fields, err := unmarshalFields(data)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", id, err)
		}
		out = append(out, record.Row{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
