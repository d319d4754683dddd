package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// NoID marks a row that has not been persisted.
const NoID int64 = 0

// Fields holds a row's column values by field name.
type Fields map[string]any

// Row is one grid row.
type Row struct {
	Handle string
	ID     int64
	Fields Fields
}

// Saved reports whether the row has a server-assigned ID.
func (r Row) Saved() bool {
	return r.ID != NoID
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	return Row{Handle: r.Handle, ID: r.ID, Fields: r.Fields.Clone()}
}

// Clone returns a deep copy of the fields.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// Get returns the value for key and whether it was present.
func (f Fields) Get(key string) (any, bool) {
	v, ok := f[key]
	return v, ok
}

// Keys returns field names in canonical order.
func (f Fields) Keys() []string {
	return sortedKeys(f)
}

// Equal reports whether both field sets hold equal values for every key.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		ov, ok := other[k]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = cloneValue(elem)
		}
		return out
	case Fields:
		return val.Clone()
	default:
		return v
	}
}

// IDOf extracts a positive integer primary key from fields[key].
// Returns NoID and false when the key is absent, null, or not an integer.
func IDOf(f Fields, key string) (int64, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return NoID, false
	}
	id, err := toInt64(v)
	if err != nil || id == NoID {
		return NoID, false
	}
	return id, true
}

func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float64:
		if val != float64(int64(val)) {
			return 0, fmt.Errorf("non-integral number %v", val)
		}
		return int64(val), nil
	case json.Number:
		return val.Int64()
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}
