package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gridsync/internal/engine"
	"github.com/roach88/gridsync/internal/pager"
)

// PullOptions holds flags for the pull command.
type PullOptions struct {
	SessionOptions
	Keyword string
	Params  map[string]string
	Replace bool
}

// PullResult is the JSON payload of pull.
type PullResult struct {
	Resource string    `json:"resource"`
	Session  string    `json:"session"`
	Pages    int       `json:"pages"`
	Rows     []RowJSON `json:"rows"`
	Mirrored int       `json:"mirrored,omitempty"`
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PullOptions{SessionOptions: SessionOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Walk a whole collection through the pager",
		Long: `Walk every page of a resource, exactly as infinite scroll would, and
print the rows. With --db the rows are also mirrored into the journal
database and every fetch is journaled.

Examples:
  gridsync pull --config gridsync.yaml --resource parts
  gridsync pull -c gridsync.yaml -r parts -q bolt --db ./gridsync.db
  gridsync pull -c gridsync.yaml -r parts --param status=open --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(cmd.Context(), opts, cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.Keyword, "keyword", "q", "", "search keyword")
	cmd.Flags().StringToStringVar(&opts.Params, "param", nil, "extra query parameter (key=value), repeatable")
	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "clear the resource's mirrored rows before writing")

	return cmd
}

func runPull(ctx context.Context, opts *PullOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newOutput(opts.RootOptions, cmd)

	s, err := openSession(&opts.SessionOptions, out)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.eng.Walk(ctx, pager.Query{Keyword: opts.Keyword, Params: opts.Params}); err != nil {
		code := ErrCodeBackend
		if !engine.IsFetchFailed(err) {
			code = ErrCodeGeneric
		}
		return out.Fail(ExitCommandError, code, "pull failed", err, nil)
	}

	rows := s.eng.Grid().Rows()
	stats := s.eng.Stats()
	result := PullResult{
		Resource: s.res.Name,
		Session:  s.eng.Session(),
		Pages:    stats.Pages,
		Rows:     rowsJSON(rows),
	}

	if s.store != nil {
		if opts.Replace {
			if err := s.store.DeleteRows(ctx, s.res.Name); err != nil {
				return out.Fail(ExitCommandError, ErrCodeStore, "failed to clear mirror", err, nil)
			}
		}
		n, err := s.store.UpsertRows(ctx, s.res.Name, rows, time.Now().UTC())
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeStore, "failed to mirror rows", err, nil)
		}
		result.Mirrored = n
	}
	out.Logf("fetched %d rows, %d duplicates dropped, %d stale pages", stats.Fetched, stats.Dups, stats.Stale)

	return out.Emit(result, func(w io.Writer) {
		writeRows(w, s.res, rows)
		fmt.Fprintf(w, "\n%d rows in %d pages", len(rows), stats.Pages)
		if s.store != nil {
			fmt.Fprintf(w, ", %d mirrored to %s", result.Mirrored, s.cfg.DB)
		}
		fmt.Fprintln(w)
	})
}
