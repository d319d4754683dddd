package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/schema"
)

func TestOutput_JSONEmit(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "json", Out: buf}

	err := out.Emit(map[string]string{"result": "success"}, func(io.Writer) {
		t.Fatal("text writer called in json mode")
	})
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutput_TextEmit(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "text", Out: buf}

	err := out.Emit(nil, func(w io.Writer) { fmt.Fprintln(w, "All schemas valid") })
	require.NoError(t, err)
	assert.Equal(t, "All schemas valid\n", buf.String())
}

func TestOutput_JSONFail(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "json", Out: buf}

	details := map[string]string{"file": "parts.cue", "line": "42"}
	err := out.Fail(ExitCommandError, ErrCodeSchema, "failed to load schemas", errors.New("syntax error"), details)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "E006: failed to load schemas: syntax error", err.Error())

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeSchema, resp.Error.Code)
	assert.Equal(t, "failed to load schemas: syntax error", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutput_TextFail(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		err     error
		want    string
	}{
		{"no cause", false, nil, "Error [E001]: bad arguments\n"},
		{"with cause", false, errors.New("boom"), "Error [E001]: bad arguments: boom\n"},
		{"verbose details", true, nil, "Error [E001]: bad arguments\nDetails: map[id:7]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			out := &Output{Format: "text", Out: buf, Verbose: tt.verbose}
			err := out.Fail(ExitFailure, ErrCodeGeneric, "bad arguments", tt.err, map[string]int{"id": 7})
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestOutput_Logf(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
			out := &Output{Format: "json", Out: stdout, Err: stderr, Verbose: tt.verbose}

			out.Logf("Processing %s", "parts.cue")

			assert.Empty(t, stdout.String(), "diagnostics never go to stdout")
			if tt.wantLog {
				assert.Equal(t, "Processing parts.cue\n", stderr.String())
			} else {
				assert.Empty(t, stderr.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "outer: inner: cause", wrapped.Error())
}

func TestWriteRows(t *testing.T) {
	res := schema.New("parts", "/parts",
		schema.Field{Name: "name"},
		schema.Field{Name: "qty", Kind: schema.KindInt},
	)
	rows := []record.Row{
		{ID: 7, Fields: record.Fields{"id": int64(7), "name": "AB", "qty": int64(3)}},
		{ID: 12, Fields: record.Fields{"id": int64(12), "name": "Bolt"}},
	}

	buf := &bytes.Buffer{}
	writeRows(buf, res, rows)
	assert.Equal(t, ""+
		"id  name  qty\n"+
		"7   AB    3\n"+
		"12  Bolt  -\n", buf.String())
}

func TestRowsJSON(t *testing.T) {
	rows := []record.Row{{Handle: "row-1", ID: 7, Fields: record.Fields{"name": "AB"}}}
	data, err := json.Marshal(rowsJSON(rows))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":7,"fields":{"name":"AB"}}]`, string(data))
}
