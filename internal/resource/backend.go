// Package resource speaks the keyset REST contract consumed by the sync
// engine:
//
//	GET    {resource}/keyset?limit=N&cursor=C&q=KEYWORD
//	POST   {resource}
//	PATCH  {resource}/{id}   (or PUT, configurable)
//	DELETE {resource}/{id}
//
// Backend is the contract; Client implements it over HTTP. Tests use the
// in-memory implementation in internal/testutil.
package resource

import (
	"context"

	"github.com/roach88/gridsync/internal/record"
)

// Direction selects which way a keyset request walks from its cursor.
type Direction int

const (
	// Forward walks in the collection's natural order (the default).
	Forward Direction = iota
	// Backward walks toward the start; only meaningful with a prev cursor.
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "prev"
	}
	return "next"
}

// KeysetRequest is one page request.
type KeysetRequest struct {
	Limit     int
	Cursor    record.Cursor
	Keyword   string
	Direction Direction
	// Params are extra filter parameters passed through verbatim.
	Params map[string]string
}

// Page is one keyset response.
type Page struct {
	Items      []record.Fields
	NextCursor record.Cursor
	HasMore    bool
	PrevCursor record.Cursor
	HasPrev    bool
}

// Backend is the REST collection the engine synchronizes with.
//
// Every method may be called concurrently from operation goroutines.
type Backend interface {
	Keyset(ctx context.Context, req KeysetRequest) (Page, error)
	Create(ctx context.Context, fields record.Fields) (record.Fields, error)
	Update(ctx context.Context, id int64, fields record.Fields) (record.Fields, error)
	Delete(ctx context.Context, id int64) error
}
