package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/gridsync/internal/journal"
	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Resource string
	Kind     string
	RowID    int64
	Rows     bool
}

// TraceEntry is one journal entry in trace output.
type TraceEntry struct {
	Seq      int64         `json:"seq"`
	Session  string        `json:"session"`
	Resource string        `json:"resource"`
	Kind     string        `json:"kind"`
	Status   string        `json:"status"`
	Handle   string        `json:"handle,omitempty"`
	RowID    int64         `json:"row_id,omitempty"`
	Version  int           `json:"version,omitempty"`
	Cursor   string        `json:"cursor,omitempty"`
	Items    int           `json:"items,omitempty"`
	Fresh    int           `json:"fresh,omitempty"`
	Payload  record.Fields `json:"payload,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Sessions []string       `json:"sessions"`
	Entries  []TraceEntry   `json:"entries"`
	Counts   map[string]int `json:"counts"`
	Rows     []RowJSON      `json:"rows,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the operation journal",
		Long: `Show what sessions did against the backend: every page fetch, create,
update and delete, in the order the engine issued them, with how each
one ended (ok, failed, stale, reverted, stopped).

Examples:
  gridsync trace --db ./gridsync.db
  gridsync trace --db ./gridsync.db --resource parts --kind update
  gridsync trace --db ./gridsync.db --session 0192f3c1-... --format json
  gridsync trace --db ./gridsync.db --resource parts --rows`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "filter to one session")
	cmd.Flags().StringVarP(&opts.Resource, "resource", "r", "", "filter to one resource")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter by operation (fetch|create|update|delete)")
	cmd.Flags().Int64Var(&opts.RowID, "row", 0, "filter to one row ID")
	cmd.Flags().BoolVar(&opts.Rows, "rows", false, "also list the resource's mirrored rows (needs --resource)")

	return cmd
}

var traceKinds = []journal.Kind{journal.KindFetch, journal.KindCreate, journal.KindUpdate, journal.KindDelete}

func runTrace(ctx context.Context, opts *TraceOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newOutput(opts.RootOptions, cmd)

	if opts.Kind != "" && !slices.Contains(traceKinds, journal.Kind(opts.Kind)) {
		return out.Fail(ExitCommandError, ErrCodeGeneric, "bad arguments",
			fmt.Errorf("unknown kind %q: must be one of %v", opts.Kind, traceKinds), nil)
	}
	if opts.Rows && opts.Resource == "" {
		return out.Fail(ExitCommandError, ErrCodeGeneric, "bad arguments", errors.New("--rows requires --resource"), nil)
	}
	// store.Open creates missing files; a trace of nothing is a typo.
	if _, err := os.Stat(opts.Database); err != nil {
		return out.Fail(ExitCommandError, ErrCodeNotFound, "database not found", err, nil)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err, nil)
	}
	defer st.Close()

	filter := store.Filter{
		Session:  opts.Session,
		Resource: opts.Resource,
		Kind:     journal.Kind(opts.Kind),
		RowID:    opts.RowID,
	}
	result, err := buildTrace(ctx, st, filter, opts.Rows)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeStore, "failed to read journal", err, nil)
	}

	return out.Emit(result, func(w io.Writer) {
		writeTrace(w, result)
	})
}

func buildTrace(ctx context.Context, st *store.Store, f store.Filter, withRows bool) (TraceResult, error) {
	entries, err := st.ReadEntries(ctx, f)
	if err != nil {
		return TraceResult{}, err
	}
	counts, err := st.StatusCounts(ctx, f)
	if err != nil {
		return TraceResult{}, err
	}

	result := TraceResult{
		Sessions: []string{},
		Entries:  make([]TraceEntry, len(entries)),
		Counts:   counts,
	}
	for i, e := range entries {
		result.Entries[i] = TraceEntry{
			Seq:      e.Seq,
			Session:  e.Session,
			Resource: e.Resource,
			Kind:     string(e.Kind),
			Status:   string(e.Status),
			Handle:   e.Handle,
			RowID:    e.RowID,
			Version:  e.Version,
			Cursor:   e.Cursor.String(),
			Items:    e.Items,
			Fresh:    e.Fresh,
			Payload:  e.Payload,
			Error:    e.Error,
		}
		if !slices.Contains(result.Sessions, e.Session) {
			result.Sessions = append(result.Sessions, e.Session)
		}
	}

	if withRows {
		rows, err := st.ReadRows(ctx, f.Resource)
		if err != nil {
			return TraceResult{}, err
		}
		result.Rows = rowsJSON(rows)
	}
	return result, nil
}

func writeTrace(w io.Writer, r TraceResult) {
	if len(r.Entries) == 0 {
		fmt.Fprintln(w, "No journal entries found")
	}

	session := ""
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range r.Entries {
		if e.Session != session {
			if session != "" {
				fmt.Fprintln(tw)
			}
			session = e.Session
			fmt.Fprintf(tw, "session %s (%s)\n", e.Session, e.Resource)
			fmt.Fprintln(tw, "  SEQ\tOP\tSTATUS\tROW\tDETAIL")
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n", e.Seq, e.Kind, e.Status, rowLabel(e), entryDetail(e))
	}
	tw.Flush()

	if len(r.Counts) > 0 {
		keys := make([]string, 0, len(r.Counts))
		for k := range r.Counts {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		fmt.Fprintln(w, "\nTotals:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %-18s %d\n", k, r.Counts[k])
		}
	}

	if len(r.Rows) > 0 {
		fmt.Fprintf(w, "\nMirrored rows (%d):\n", len(r.Rows))
		for _, row := range r.Rows {
			data, err := record.MarshalCanonical(map[string]any(row.Fields))
			if err != nil {
				data = []byte(err.Error())
			}
			fmt.Fprintf(w, "  %d %s\n", row.ID, data)
		}
	}
}

func rowLabel(e TraceEntry) string {
	switch {
	case e.RowID != 0:
		return fmt.Sprint(e.RowID)
	case e.Handle != "":
		return e.Handle
	default:
		return "-"
	}
}

func entryDetail(e TraceEntry) string {
	var detail string
	switch journal.Kind(e.Kind) {
	case journal.KindFetch:
		detail = fmt.Sprintf("v%d cursor=%s items=%d fresh=%d", e.Version, cursorLabel(e.Cursor), e.Items, e.Fresh)
	default:
		if len(e.Payload) > 0 {
			data, err := record.MarshalCanonical(map[string]any(e.Payload))
			if err == nil {
				detail = string(data)
			}
		}
	}
	if e.Error != "" {
		if detail != "" {
			detail += " "
		}
		detail += "error: " + e.Error
	}
	return detail
}

func cursorLabel(c string) string {
	if c == "" {
		return "start"
	}
	return c
}
