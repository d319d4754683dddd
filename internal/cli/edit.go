package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/gridsync/internal/engine"
	"github.com/roach88/gridsync/internal/notice"
	"github.com/roach88/gridsync/internal/record"
)

// newRowHandle is the grid handle of the row inserted by edit --new.
const newRowHandle = "cli-new"

var errMissingFields = errors.New("required fields missing")

// EditOptions holds flags for the edit command.
type EditOptions struct {
	SessionOptions
	ID     int64
	Set    []string
	New    bool
	Delete bool
}

// EditResult is the JSON payload of edit.
type EditResult struct {
	Action  string       `json:"action"` // "update" | "create" | "delete"
	Row     *RowJSON     `json:"row,omitempty"`
	State   string       `json:"state"`
	Notices []NoticeJSON `json:"notices,omitempty"`
}

// NoticeJSON is a notice as written in JSON output.
type NoticeJSON struct {
	Level   notice.Level `json:"level"`
	Kind    notice.Kind  `json:"kind"`
	Field   string       `json:"field,omitempty"`
	Message string       `json:"message"`
	Error   string       `json:"error,omitempty"`
}

func noticesJSON(ns []notice.Notice) []NoticeJSON {
	out := make([]NoticeJSON, len(ns))
	for i, n := range ns {
		out[i] = NoticeJSON{Level: n.Level, Kind: n.Kind, Field: n.Field, Message: n.Message}
		if n.Err != nil {
			out[i].Error = n.Err.Error()
		}
	}
	return out
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{SessionOptions: SessionOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit, create or delete one row through the sync engine",
		Long: `Apply cell edits to one row the way the grid would and wait for the
autosave to settle. Values are validated against the resource schema
before anything is sent; a rejected edit is reverted and reported.

The row is located by walking the collection until its ID is rendered.

Examples:
  gridsync edit -c gridsync.yaml -r parts --id 7 --set name=AB
  gridsync edit -c gridsync.yaml -r parts --id 7 --set qty=3 --set name=Bolt
  gridsync edit -c gridsync.yaml -r parts --new --set name=Washer --set qty=10
  gridsync edit -c gridsync.yaml -r parts --id 7 --delete`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd.Context(), opts, cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().Int64Var(&opts.ID, "id", 0, "ID of the row to edit")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "cell assignment field=value, repeatable")
	cmd.Flags().BoolVar(&opts.New, "new", false, "create a new row from --set values")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete the row")
	cmd.MarkFlagsMutuallyExclusive("new", "delete")
	cmd.MarkFlagsMutuallyExclusive("new", "id")

	return cmd
}

// assignment is one parsed --set flag.
type assignment struct {
	field string
	value string
}

func parseAssignments(sets []string) ([]assignment, error) {
	out := make([]assignment, 0, len(sets))
	for _, s := range sets {
		field, value, ok := strings.Cut(s, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid --set %q: want field=value", s)
		}
		out = append(out, assignment{field: field, value: value})
	}
	return out, nil
}

func runEdit(ctx context.Context, opts *EditOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newOutput(opts.RootOptions, cmd)

	sets, err := parseAssignments(opts.Set)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeGeneric, "bad arguments", err, nil)
	}
	switch {
	case opts.New && len(sets) == 0:
		return out.Fail(ExitCommandError, ErrCodeGeneric, "bad arguments", errors.New("--new requires at least one --set"), nil)
	case !opts.New && opts.ID == 0:
		return out.Fail(ExitCommandError, ErrCodeGeneric, "bad arguments", errors.New("--id is required"), nil)
	case !opts.New && !opts.Delete && len(sets) == 0:
		return out.Fail(ExitCommandError, ErrCodeGeneric, "bad arguments", errors.New("nothing to do: pass --set or --delete"), nil)
	}

	s, err := openSession(&opts.SessionOptions, out)
	if err != nil {
		return err
	}
	defer s.Close()

	var result EditResult
	switch {
	case opts.New:
		result, err = s.create(ctx, sets)
	case opts.Delete:
		result, err = s.remove(ctx, opts.ID)
	default:
		result, err = s.update(ctx, opts.ID, sets)
	}
	if err != nil {
		switch {
		case errors.Is(err, errMissingFields):
			return out.Fail(ExitFailure, ErrCodeRejected, "create rejected", err, nil)
		case engine.IsUnknownRow(err):
			return out.Fail(ExitCommandError, ErrCodeUnknownRow, "row not found", err, nil)
		case engine.IsFetchFailed(err):
			return out.Fail(ExitCommandError, ErrCodeBackend, "failed to load rows", err, nil)
		}
		return out.Fail(ExitCommandError, ErrCodeGeneric, "edit failed", err, nil)
	}

	if failed := s.failures(); len(failed) > 0 {
		msgs := make([]string, len(failed))
		for i, n := range failed {
			msgs[i] = n.String()
		}
		return out.Fail(ExitFailure, ErrCodeRejected, result.Action+" rejected", errors.New(strings.Join(msgs, "; ")), noticesJSON(failed))
	}

	return out.Emit(result, func(w io.Writer) {
		switch {
		case result.Row == nil:
			fmt.Fprintf(w, "%s %s: %s\n", result.Action, s.res.Name, result.State)
		default:
			fmt.Fprintf(w, "%s %s %d: %s\n\n", result.Action, s.res.Name, result.Row.ID, result.State)
			writeRows(w, s.res, []record.Row{{ID: result.Row.ID, Fields: result.Row.Fields}})
		}
	})
}

func (s *session) update(ctx context.Context, id int64, sets []assignment) (EditResult, error) {
	row, err := s.eng.Find(ctx, id)
	if err != nil {
		return EditResult{}, err
	}
	for _, a := range sets {
		if err := s.eng.Apply(engine.CellEdited{Handle: row.Handle, Field: a.field, Value: a.value}); err != nil {
			return EditResult{}, err
		}
	}
	return s.finish(ctx, "update", row.Handle)
}

func (s *session) create(ctx context.Context, sets []assignment) (EditResult, error) {
	fields := make(record.Fields, len(sets))
	for _, a := range sets {
		fields[a.field] = a.value
	}
	if missing := s.res.Missing(fields); len(missing) > 0 {
		return EditResult{}, fmt.Errorf("%w: %s", errMissingFields, strings.Join(missing, ", "))
	}
	if err := s.eng.Apply(engine.AddRow{Handle: newRowHandle, Fields: fields}); err != nil {
		return EditResult{}, err
	}
	return s.finish(ctx, "create", newRowHandle)
}

func (s *session) remove(ctx context.Context, id int64) (EditResult, error) {
	row, err := s.eng.Find(ctx, id)
	if err != nil {
		return EditResult{}, err
	}
	if err := s.eng.Apply(engine.DeleteRow{Handle: row.Handle}); err != nil {
		return EditResult{}, err
	}
	result, err := s.finish(ctx, "delete", row.Handle)
	if result.Row == nil {
		result.Row = &RowJSON{ID: row.ID, Fields: row.Fields}
	}
	return result, err
}

// finish flushes debounced saves, waits for the row to settle and reports
// where it ended up.
func (s *session) finish(ctx context.Context, action, handle string) (EditResult, error) {
	if err := s.eng.Apply(engine.Flush{}); err != nil {
		return EditResult{}, err
	}
	if err := s.eng.Settle(ctx); err != nil {
		return EditResult{}, err
	}
	result := EditResult{
		Action:  action,
		State:   s.eng.RowState(handle).String(),
		Notices: noticesJSON(s.notes.Notices()),
	}
	if row, ok := s.eng.Grid().Row(handle); ok {
		result.Row = &RowJSON{ID: row.ID, Fields: row.Fields}
	}
	return result, nil
}
