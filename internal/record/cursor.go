package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Cursor is an opaque keyset position returned by the backend.
//
// The zero value means "from the start". Backends may encode cursors as
// JSON numbers or strings; both decode to the same textual form so that a
// cursor can be echoed back verbatim as a query parameter.
type Cursor string

// NoCursor is the start-of-collection cursor.
const NoCursor Cursor = ""

// IsZero reports whether the cursor points at the start of the collection.
func (c Cursor) IsZero() bool {
	return c == NoCursor
}

// String returns the cursor as it is sent on the wire.
func (c Cursor) String() string {
	return string(c)
}

// Int64 interprets the cursor as a numeric row ID.
func (c Cursor) Int64() (int64, bool) {
	if c.IsZero() {
		return 0, false
	}
	n, err := strconv.ParseInt(string(c), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CursorFromID builds a cursor from a numeric row ID.
func CursorFromID(id int64) Cursor {
	return Cursor(strconv.FormatInt(id, 10))
}

// UnmarshalJSON accepts null, a number, or a string.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = NoCursor
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode cursor: %w", err)
		}
		*c = Cursor(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode cursor: %w", err)
	}
	*c = Cursor(n.String())
	return nil
}

// MarshalJSON encodes the zero cursor as null and numeric cursors as numbers.
func (c Cursor) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	if _, ok := c.Int64(); ok {
		return []byte(c), nil
	}
	return json.Marshal(string(c))
}
