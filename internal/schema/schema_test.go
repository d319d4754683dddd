package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/record"
)

const partsSource = `
package gridsync

resource: parts: {
	path:      "/parts"
	page_size: 25
	order:     "desc"
	fields: {
		part_no: {kind: "string", required: true, upper: true}
		name:    {kind: "string", required: true}
		qty:     {kind: "int"}
		price:   {kind: "float"}
		active:  {kind: "bool"}
		due:     {kind: "date"}
		code:    {kind: "string", readonly: true}
	}
}

resource: lots: {
	path:   "/lots"
	cursor: "opaque"
	order:  "asc"
	update_method: "put"
}
`

func compileParts(t *testing.T) *Resource {
	t.Helper()
	set, err := CompileSource("parts.cue", partsSource)
	require.NoError(t, err)
	r, err := set.Get("parts")
	require.NoError(t, err)
	return r
}

func TestCompileSource_Resources(t *testing.T) {
	set, err := CompileSource("parts.cue", partsSource)
	require.NoError(t, err)
	assert.Equal(t, []string{"lots", "parts"}, set.Names())

	parts := set["parts"]
	assert.Equal(t, "/parts", parts.Path)
	assert.Equal(t, 25, parts.PageSize)
	assert.Equal(t, OrderDesc, parts.Order)
	assert.Equal(t, CursorNumericID, parts.Cursor)
	assert.Equal(t, "id", parts.IDField)
	assert.Equal(t, "PATCH", parts.UpdateMethod)

	names := make([]string, len(parts.Fields))
	for i, f := range parts.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"part_no", "name", "qty", "price", "active", "due", "code"}, names, "declaration order kept")
	assert.True(t, parts.Required("name"))
	assert.False(t, parts.Required("qty"))

	lots := set["lots"]
	assert.Equal(t, CursorOpaque, lots.Cursor)
	assert.Equal(t, OrderAsc, lots.Order)
	assert.Equal(t, "PUT", lots.UpdateMethod)
	assert.Equal(t, DefaultPageSize, lots.PageSize)
}

func TestCompileSource_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing path", `resource: x: {page_size: 10}`, "path is required"},
		{"relative path", `resource: x: {path: "x"}`, "must start with /"},
		{"bad order", `resource: x: {path: "/x", order: "up"}`, "must be asc or desc"},
		{"bad cursor", `resource: x: {path: "/x", cursor: "offset"}`, "numeric-id or opaque"},
		{"bad kind", `resource: x: {path: "/x", fields: a: {kind: "money"}}`, "unknown kind"},
		{"page size", `resource: x: {path: "/x", page_size: 0}`, "must be in 1..1000"},
		{"readonly required", `resource: x: {path: "/x", fields: a: {readonly: true, required: true}}`, "cannot be required"},
		{"no resources", `other: 1`, "no resource declarations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSource("x.cue", tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parts.cue"), []byte(partsSource), 0o644))

	set, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Contains(t, set, "parts")
}

func TestLoadDir_Empty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")
}

func TestResource_Normalize(t *testing.T) {
	r := compileParts(t)

	tests := []struct {
		field string
		in    any
		want  any
	}{
		{"part_no", "  ab-12 ", "AB-12"},
		{"name", "  Bolt  ", "Bolt"},
		{"qty", "12", int64(12)},
		{"qty", 3.0, int64(3)},
		{"qty", "", nil},
		{"price", "2.50", 2.5},
		{"price", int64(2), 2.0},
		{"active", "yes", true},
		{"active", false, false},
		{"due", "2026-03-01", "2026-03-01"},
		{"undeclared", int(4), int64(4)},
	}
	for _, tt := range tests {
		got, err := r.Normalize(tt.field, tt.in)
		require.NoError(t, err, "%s=%v", tt.field, tt.in)
		assert.Equal(t, tt.want, got, "%s=%v", tt.field, tt.in)
	}
}

func TestResource_NormalizeRejects(t *testing.T) {
	r := compileParts(t)
	for field, in := range map[string]any{
		"qty":    "twelve",
		"price":  "cheap",
		"active": "maybe",
		"due":    "03/01/2026",
	} {
		_, err := r.Normalize(field, in)
		require.Error(t, err, field)
		assert.True(t, IsValidationError(err), field)
	}
	_, err := r.Normalize("qty", 1.5)
	assert.Error(t, err)
}

func TestResource_PayloadDropsIDAndReadOnly(t *testing.T) {
	r := compileParts(t)
	p, err := r.Payload(record.Fields{
		"id":      int64(7),
		"code":    "P-0007",
		"part_no": "x1",
		"name":    "Nut",
		"qty":     "4",
	})
	require.NoError(t, err)
	assert.Equal(t, record.Fields{"part_no": "X1", "name": "Nut", "qty": int64(4)}, p)
}

func TestResource_Missing(t *testing.T) {
	r := compileParts(t)
	assert.Equal(t, []string{"part_no", "name"}, r.Missing(record.Fields{"qty": int64(1)}))
	assert.Equal(t, []string{"name"}, r.Missing(record.Fields{"part_no": "A", "name": "  "}))
	assert.Empty(t, r.Missing(record.Fields{"part_no": "A", "name": "B"}))
}

func TestResource_RowFromFields(t *testing.T) {
	r := compileParts(t)
	row := r.RowFromFields("h1", record.Fields{"id": int64(9), "name": "x"})
	assert.Equal(t, int64(9), row.ID)
	assert.Equal(t, "h1", row.Handle)

	row = r.RowFromFields("h2", record.Fields{"name": "x"})
	assert.False(t, row.Saved())
}
