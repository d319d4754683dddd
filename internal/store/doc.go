// Package store provides SQLite-backed storage for sync journals and pulled
// rows.
//
// The store keeps two tables:
//   - ops: one row per journal.Entry, keyed by (session, seq)
//   - mirror: rows pulled from a resource, keyed by (resource, id)
//
// # Ordering
//
// Journal reads are ordered by session then seq, the session loop's logical
// clock. Wall time is never used for ordering.
//
// # Payloads
//
// Payloads and row fields are stored as canonical JSON (record.MarshalCanonical)
// so that two journals of the same session compare byte for byte.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
