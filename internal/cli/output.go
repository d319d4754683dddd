package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/schema"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation ran but did not succeed (save rejected, scenario failed)
	ExitCommandError = 2 // Command error (bad flags, unreadable config, backend unreachable)
)

// Error codes reported in JSON output and error messages.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeConfig     = "E002" // Config file missing or invalid
	ErrCodeNotFound   = "E005" // Path not found
	ErrCodeSchema     = "E006" // Resource schema did not compile
	ErrCodeBackend    = "E010" // Backend request failed
	ErrCodeStore      = "E011" // Journal database error
	ErrCodeUnknownRow = "E012" // Row ID not in the collection
	ErrCodeRejected   = "E013" // Edit rejected locally or by the server
	ErrCodeScenario   = "E020" // Scenario failed to load or run
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope every command writes in --format json.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError is the error part of a Response.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Output writes command results as text or JSON.
type Output struct {
	Format  string
	Out     io.Writer
	Err     io.Writer // diagnostics; never mixed into JSON output
	Verbose bool
}

// JSON reports whether output is machine-readable.
func (o *Output) JSON() bool {
	return o.Format == "json"
}

// Emit writes data as a JSON envelope, or calls text for human output.
func (o *Output) Emit(data any, text func(w io.Writer)) error {
	if o.JSON() {
		return json.NewEncoder(o.Out).Encode(Response{Status: "ok", Data: data})
	}
	text(o.Out)
	return nil
}

// Fail reports an error in the configured format and returns the ExitError
// the command should return.
func (o *Output) Fail(exit int, code, message string, err error, details any) error {
	if o.JSON() {
		msg := message
		if err != nil {
			msg = fmt.Sprintf("%s: %v", message, err)
		}
		_ = json.NewEncoder(o.Out).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: msg, Details: details},
		})
	} else {
		fmt.Fprintf(o.Out, "Error [%s]: %s", code, message)
		if err != nil {
			fmt.Fprintf(o.Out, ": %v", err)
		}
		fmt.Fprintln(o.Out)
		if o.Verbose && details != nil {
			fmt.Fprintf(o.Out, "Details: %v\n", details)
		}
	}
	return WrapExitError(exit, code+": "+message, err)
}

// Logf writes a diagnostic line when verbose.
func (o *Output) Logf(format string, args ...any) {
	if !o.Verbose || o.Err == nil {
		return
	}
	fmt.Fprintf(o.Err, format+"\n", args...)
}

// RowJSON is a grid row as written in JSON output.
type RowJSON struct {
	ID     int64         `json:"id"`
	Fields record.Fields `json:"fields"`
}

func rowsJSON(rows []record.Row) []RowJSON {
	out := make([]RowJSON, len(rows))
	for i, r := range rows {
		out[i] = RowJSON{ID: r.ID, Fields: r.Fields}
	}
	return out
}

// writeRows prints rows as an aligned table: the ID column, then the
// resource's declared fields in order.
func writeRows(w io.Writer, res *schema.Resource, rows []record.Row) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, res.IDField)
	for _, f := range res.Fields {
		fmt.Fprint(tw, "\t"+f.Name)
	}
	fmt.Fprintln(tw)
	for _, r := range rows {
		fmt.Fprint(tw, r.ID)
		for _, f := range res.Fields {
			fmt.Fprint(tw, "\t"+cell(r.Fields[f.Name]))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}

func cell(v any) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}
