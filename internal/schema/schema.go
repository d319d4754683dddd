// Package schema describes the REST resources the engine synchronizes:
// where they live, how they paginate, and which fields they carry.
//
// Schemas are declared in CUE:
//
//	resource: parts: {
//		path:      "/parts"
//		page_size: 50
//		order:     "desc"
//		fields: {
//			part_no: {kind: "string", required: true, upper: true}
//			name:    {kind: "string", required: true}
//			qty:     {kind: "int"}
//			code:    {kind: "string", readonly: true}
//		}
//	}
//
// The Resource type turns raw cell values into the normalized payload sent
// to the backend and answers "is this field required" for edit validation.
package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/gridsync/internal/record"
)

// Kind is a field's value type.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindDate   Kind = "date"
	KindAny    Kind = "any"
)

func (k Kind) valid() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindDate, KindAny:
		return true
	}
	return false
}

// Order is the collection's keyset walk order by ID.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// CursorScheme says what the backend's cursors are.
type CursorScheme string

const (
	// CursorNumericID cursors are row IDs; the pager may synthesize them.
	CursorNumericID CursorScheme = "numeric-id"
	// CursorOpaque cursors are server tokens the client must not invent.
	CursorOpaque CursorScheme = "opaque"
)

// DateLayout is the wire format for KindDate fields.
const DateLayout = "2006-01-02"

// Field describes one column.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	// ReadOnly fields are generated by the server (codes, timestamps) and
	// never sent in payloads.
	ReadOnly bool
	// Upper uppercases string values.
	Upper bool
	// KeepSpace disables trimming of string values.
	KeepSpace bool
}

// Resource is one REST collection.
type Resource struct {
	Name         string
	Path         string
	IDField      string
	PageSize     int
	Order        Order
	Cursor       CursorScheme
	UpdateMethod string
	Fields       []Field
	byName       map[string]int
}

// Defaults applied by New and the CUE compiler.
const (
	DefaultIDField  = "id"
	DefaultPageSize = 50
)

// New builds a resource with defaults filled in.
func New(name, path string, fields ...Field) *Resource {
	r := &Resource{
		Name:         name,
		Path:         path,
		IDField:      DefaultIDField,
		PageSize:     DefaultPageSize,
		Order:        OrderDesc,
		Cursor:       CursorNumericID,
		UpdateMethod: "PATCH",
	}
	for _, f := range fields {
		if f.Kind == "" {
			f.Kind = KindString
		}
		r.Fields = append(r.Fields, f)
	}
	r.index()
	return r
}

func (r *Resource) index() {
	r.byName = make(map[string]int, len(r.Fields))
	for i, f := range r.Fields {
		r.byName[f.Name] = i
	}
}

// Field returns the declared field by name.
func (r *Resource) Field(name string) (Field, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Field{}, false
	}
	return r.Fields[i], true
}

// Required reports whether name must be non-empty.
func (r *Resource) Required(name string) bool {
	f, ok := r.Field(name)
	return ok && f.Required
}

// Missing returns required fields that are empty in fields, in declaration order.
func (r *Resource) Missing(fields record.Fields) []string {
	var out []string
	for _, f := range r.Fields {
		if f.Required && record.IsEmpty(fields[f.Name]) {
			out = append(out, f.Name)
		}
	}
	return out
}

// Normalize coerces a raw cell value for field name. Undeclared fields are
// passed through after record.Normalize.
func (r *Resource) Normalize(name string, v any) (any, error) {
	nv, err := record.Normalize(v)
	if err != nil {
		return nil, &ValidationError{Field: name, Message: err.Error()}
	}
	f, ok := r.Field(name)
	if !ok {
		return nv, nil
	}
	out, err := coerce(f, nv)
	if err != nil {
		return nil, &ValidationError{Field: name, Message: err.Error()}
	}
	return out, nil
}

// Payload computes the full payload for fields: every value normalized,
// the ID field and read-only fields dropped. Required fields are not
// checked here; see Missing.
func (r *Resource) Payload(fields record.Fields) (record.Fields, error) {
	out := make(record.Fields, len(fields))
	for _, k := range fields.Keys() {
		if k == r.IDField {
			continue
		}
		if f, ok := r.Field(k); ok && f.ReadOnly {
			continue
		}
		v, err := r.Normalize(k, fields[k])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// RowFromFields builds a Row from a server item.
func (r *Resource) RowFromFields(handle string, fields record.Fields) record.Row {
	id, _ := record.IDOf(fields, r.IDField)
	return record.Row{Handle: handle, ID: id, Fields: fields}
}

func coerce(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindAny:
		return v, nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		s = norm.NFC.String(s)
		if !f.KeepSpace {
			s = strings.TrimSpace(s)
		}
		if f.Upper {
			s = strings.ToUpper(s)
		}
		return s, nil
	}

	// Non-string kinds: blank strings mean "no value".
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		return parseString(f.Kind, s)
	}

	switch f.Kind {
	case KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			if n != float64(int64(n)) {
				return nil, fmt.Errorf("%v is not an integer", n)
			}
			return int64(n), nil
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, f.Kind)
}

func parseString(k Kind, s string) (any, error) {
	switch k {
	case KindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		return n, nil
	case KindFloat:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		return n, nil
	case KindBool:
		switch strings.ToLower(s) {
		case "true", "1", "yes", "y":
			return true, nil
		case "false", "0", "no", "n":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", s)
	case KindDate:
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("%q is not a date (want %s)", s, DateLayout)
		}
		return t.Format(DateLayout), nil
	}
	return nil, fmt.Errorf("unsupported kind %s", k)
}
