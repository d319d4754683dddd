package schema

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
)

// CompileResource parses the CUE value of one resource declaration, i.e.
// the value at path resource.<name>.
func CompileResource(v cue.Value) (*Resource, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	labels := v.Path().Selectors()
	name := ""
	if len(labels) > 0 {
		name = labels[len(labels)-1].Unquoted()
	}
	r := New(name, "")

	path, err := lookupString(v, "path", true)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, "/") {
		return nil, &CompileError{Field: "path", Message: "must start with /", Pos: v.LookupPath(cue.ParsePath("path")).Pos()}
	}
	r.Path = path

	if s, err := lookupString(v, "id_field", false); err != nil {
		return nil, err
	} else if s != "" {
		r.IDField = s
	}

	if pv := v.LookupPath(cue.ParsePath("page_size")); pv.Exists() {
		n, err := pv.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if n <= 0 || n > 1000 {
			return nil, &CompileError{Field: "page_size", Message: fmt.Sprintf("must be in 1..1000, got %d", n), Pos: pv.Pos()}
		}
		r.PageSize = int(n)
	}

	if s, err := lookupString(v, "order", false); err != nil {
		return nil, err
	} else if s != "" {
		o := Order(s)
		if o != OrderAsc && o != OrderDesc {
			return nil, &CompileError{Field: "order", Message: fmt.Sprintf("must be asc or desc, got %q", s), Pos: v.LookupPath(cue.ParsePath("order")).Pos()}
		}
		r.Order = o
	}

	if s, err := lookupString(v, "cursor", false); err != nil {
		return nil, err
	} else if s != "" {
		c := CursorScheme(s)
		if c != CursorNumericID && c != CursorOpaque {
			return nil, &CompileError{Field: "cursor", Message: fmt.Sprintf("must be numeric-id or opaque, got %q", s), Pos: v.LookupPath(cue.ParsePath("cursor")).Pos()}
		}
		r.Cursor = c
	}

	if s, err := lookupString(v, "update_method", false); err != nil {
		return nil, err
	} else if s != "" {
		m := strings.ToUpper(s)
		if m != "PATCH" && m != "PUT" {
			return nil, &CompileError{Field: "update_method", Message: fmt.Sprintf("must be PATCH or PUT, got %q", s), Pos: v.LookupPath(cue.ParsePath("update_method")).Pos()}
		}
		r.UpdateMethod = m
	}

	fields, err := parseFields(v)
	if err != nil {
		return nil, err
	}
	r.Fields = fields
	r.index()
	return r, nil
}

// parseFields reads the fields struct in declaration order.
func parseFields(v cue.Value) ([]Field, error) {
	fv := v.LookupPath(cue.ParsePath("fields"))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []Field
	for iter.Next() {
		val := iter.Value()
		f := Field{Name: iter.Selector().Unquoted(), Kind: KindString}

		kind, err := lookupString(val, "kind", false)
		if err != nil {
			return nil, err
		}
		if kind != "" {
			f.Kind = Kind(kind)
			if !f.Kind.valid() {
				return nil, &CompileError{
					Field:   "fields." + f.Name + ".kind",
					Message: fmt.Sprintf("unknown kind %q", kind),
					Pos:     val.LookupPath(cue.ParsePath("kind")).Pos(),
				}
			}
		}

		for _, flag := range []struct {
			name string
			dst  *bool
		}{
			{"required", &f.Required},
			{"readonly", &f.ReadOnly},
			{"upper", &f.Upper},
			{"keep_space", &f.KeepSpace},
		} {
			bv := val.LookupPath(cue.ParsePath(flag.name))
			if !bv.Exists() {
				continue
			}
			b, err := bv.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			*flag.dst = b
		}

		if f.Required && f.ReadOnly {
			return nil, &CompileError{
				Field:   "fields." + f.Name,
				Message: "a read-only field cannot be required",
				Pos:     val.Pos(),
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func lookupString(v cue.Value, field string, required bool) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		if required {
			return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
		}
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// formatCUEError keeps the first CUE error with its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
