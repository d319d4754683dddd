package record

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_UnmarshalNumberStringNull(t *testing.T) {
	var page struct {
		Next Cursor `json:"next_cursor"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"next_cursor": 50}`), &page))
	assert.Equal(t, Cursor("50"), page.Next)
	n, ok := page.Next.Int64()
	require.True(t, ok)
	assert.Equal(t, int64(50), n)

	require.NoError(t, json.Unmarshal([]byte(`{"next_cursor": "eyJpZCI6OX0"}`), &page))
	assert.Equal(t, Cursor("eyJpZCI6OX0"), page.Next)
	_, ok = page.Next.Int64()
	assert.False(t, ok)

	require.NoError(t, json.Unmarshal([]byte(`{"next_cursor": null}`), &page))
	assert.True(t, page.Next.IsZero())
}

func TestCursor_MarshalRoundTripsShape(t *testing.T) {
	b, err := json.Marshal(CursorFromID(42))
	require.NoError(t, err)
	assert.Equal(t, "42", string(b))

	b, err = json.Marshal(Cursor("abc"))
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(b))

	b, err = json.Marshal(NoCursor)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestNormalize_JSONNumbers(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"qty": 3, "price": 2.5, "tags": ["a", 1], "ok": true, "note": null}`))
	dec.UseNumber()
	var raw map[string]any
	require.NoError(t, dec.Decode(&raw))

	f, err := NormalizeFields(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(3), f["qty"])
	assert.Equal(t, 2.5, f["price"])
	assert.Equal(t, []any{"a", int64(1)}, f["tags"])
	assert.Equal(t, true, f["ok"])
	assert.Nil(t, f["note"])
}

func TestNormalize_RejectsUnsupported(t *testing.T) {
	_, err := Normalize(struct{}{})
	assert.Error(t, err)
}

func TestEqual_MixedNumericKinds(t *testing.T) {
	assert.True(t, Equal(int64(3), 3.0))
	assert.True(t, Equal(3.0, int64(3)))
	assert.False(t, Equal(int64(3), "3"))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, ""))
	assert.True(t, Equal([]any{"a"}, []any{"a"}))
	assert.True(t, Equal(map[string]any{"k": int64(1)}, map[string]any{"k": 1.0}))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty("   "))
	assert.False(t, IsEmpty("x"))
	assert.False(t, IsEmpty(int64(0)))
	assert.False(t, IsEmpty(false))
}

func TestIDOf(t *testing.T) {
	id, ok := IDOf(Fields{"id": json.Number("7")}, "id")
	require.True(t, ok)
	assert.Equal(t, int64(7), id)

	_, ok = IDOf(Fields{"id": nil}, "id")
	assert.False(t, ok)

	_, ok = IDOf(Fields{"name": "x"}, "id")
	assert.False(t, ok)

	_, ok = IDOf(Fields{"id": 1.5}, "id")
	assert.False(t, ok)
}

func TestFields_CloneIsDeep(t *testing.T) {
	orig := Fields{"tags": []any{"a"}, "meta": map[string]any{"k": "v"}}
	cp := orig.Clone()
	cp["tags"].([]any)[0] = "b"
	cp["meta"].(map[string]any)["k"] = "w"

	assert.Equal(t, "a", orig["tags"].([]any)[0])
	assert.Equal(t, "v", orig["meta"].(map[string]any)["k"])
}

func TestMarshalCanonical_SortedCompact(t *testing.T) {
	b, err := MarshalCanonical(Fields{"name": "AB", "id": int64(7), "qty": 2.5, "note": nil})
	require.NoError(t, err)
	assert.Equal(t, `{"id":7,"name":"AB","note":null,"qty":2.5}`, string(b))
}

func TestMarshalCanonical_NoHTMLEscapeAndNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed "é".
	b, err := MarshalCanonical(map[string]any{"s": "<a&b> e\u0301"})
	require.NoError(t, err)
	assert.Equal(t, "{\"s\":\"<a&b> \u00e9\"}", string(b))
}

func TestMarshalCanonical_RejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical([]any{1.0, func() float64 { z := 0.0; return 1 / z }()})
	assert.Error(t, err)
}
