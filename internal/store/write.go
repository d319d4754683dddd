package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/gridsync/internal/journal"
	"github.com/roach88/gridsync/internal/record"
)

// Append inserts a journal entry. It implements journal.Writer.
// Uses ON CONFLICT(session, seq) DO NOTHING for idempotency - replaying the
// same entry is silently ignored.
//
// The payload is serialized to canonical JSON for byte-stable traces.
func (s *Store) Append(ctx context.Context, e journal.Entry) error {
	payload, err := marshalFields(e.Payload)
	if err != nil {
		return fmt.Errorf("append entry %d: %w", e.Seq, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ops
		(session, seq, resource, kind, status, handle, row_id, version, cursor, items, fresh, payload, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, seq) DO NOTHING
	`,
		e.Session,
		e.Seq,
		e.Resource,
		string(e.Kind),
		string(e.Status),
		e.Handle,
		e.RowID,
		e.Version,
		e.Cursor.String(),
		e.Items,
		e.Fresh,
		payload,
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("append entry %d: %w", e.Seq, err)
	}
	return nil
}

var _ journal.Writer = (*Store)(nil)

// UpsertRows mirrors pulled rows for resource in one transaction. Rows
// without an ID are skipped. pulled is recorded as an RFC 3339 timestamp
// for display only.
func (s *Store) UpsertRows(ctx context.Context, resource string, rows []record.Row, pulled time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert rows: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mirror (resource, id, fields, pulled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource, id) DO UPDATE SET fields = excluded.fields, pulled = excluded.pulled
	`)
	if err != nil {
		return 0, fmt.Errorf("upsert rows: %w", err)
	}
	defer stmt.Close()

	stamp := pulled.UTC().Format(time.RFC3339)
	n := 0
	for _, r := range rows {
		if !r.Saved() {
			continue
		}
		fields, err := marshalFields(r.Fields)
		if err != nil {
			return 0, fmt.Errorf("upsert row %d: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, resource, r.ID, fields, stamp); err != nil {
			return 0, fmt.Errorf("upsert row %d: %w", r.ID, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert rows: %w", err)
	}
	return n, nil
}

// DeleteRows drops the mirror of resource.
func (s *Store) DeleteRows(ctx context.Context, resource string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mirror WHERE resource = ?`, resource); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	return nil
}
