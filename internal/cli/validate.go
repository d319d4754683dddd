package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/gridsync/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Resources []ResourceSummary `json:"resources,omitempty"`
	Error     *SchemaError      `json:"error,omitempty"`
}

// ResourceSummary describes one compiled resource.
type ResourceSummary struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	IDField  string   `json:"id_field"`
	Order    string   `json:"order"`
	Cursor   string   `json:"cursor"`
	PageSize int      `json:"page_size"`
	Fields   []string `json:"fields"`
	Required []string `json:"required,omitempty"`
}

// SchemaError is a compile error with its source position, when known.
type SchemaError struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate resource schemas",
		Long: `Compile the CUE resource schemas in a directory and report what each
resource declares: path, ID field, sort order, cursor scheme, page size
and fields. Nothing is sent to a backend.

Examples:
  gridsync validate ./schemas
  gridsync validate ./schemas --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	out := newOutput(opts, cmd)

	set, err := schema.LoadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out.Fail(ExitCommandError, ErrCodeNotFound, "schema directory not found", err, nil)
		}
		return outputSchemaFailure(out, err)
	}

	result := ValidationResult{Valid: true}
	for _, name := range set.Names() {
		res := set[name]
		out.Logf("compiled resource %s", name)
		result.Resources = append(result.Resources, summarize(res))
	}

	return out.Emit(result, func(w io.Writer) {
		for _, r := range result.Resources {
			fmt.Fprintf(w, "✓ %s: %s (%d fields, %s, %s cursors, page size %d)\n",
				r.Name, r.Path, len(r.Fields), r.Order, r.Cursor, r.PageSize)
		}
		fmt.Fprintln(w, "✓ All schemas valid")
	})
}

func summarize(res *schema.Resource) ResourceSummary {
	s := ResourceSummary{
		Name:     res.Name,
		Path:     res.Path,
		IDField:  res.IDField,
		Order:    string(res.Order),
		Cursor:   string(res.Cursor),
		PageSize: res.PageSize,
		Fields:   make([]string, 0, len(res.Fields)),
	}
	for _, f := range res.Fields {
		s.Fields = append(s.Fields, f.Name)
		if f.Required {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s
}

// outputSchemaFailure reports a schema that did not compile. Validation
// failures exit 1, like a failed test.
func outputSchemaFailure(out *Output, err error) error {
	se := &SchemaError{Message: err.Error()}
	var ce *schema.CompileError
	if errors.As(err, &ce) && ce.Pos.IsValid() {
		se.Message = ce.Field + ": " + ce.Message
		se.File = ce.Pos.Filename()
		se.Line = ce.Pos.Line()
	}

	if out.JSON() {
		return out.Fail(ExitFailure, ErrCodeSchema, "validation failed", err, ValidationResult{Error: se})
	}

	fmt.Fprintln(out.Out, "✗ Validation failed")
	fmt.Fprintln(out.Out)
	if se.Line > 0 {
		fmt.Fprintf(out.Out, "%s line %d\n", se.File, se.Line)
	}
	fmt.Fprintf(out.Out, "  %s: %s\n", ErrCodeSchema, se.Message)
	return WrapExitError(ExitFailure, ErrCodeSchema+": validation failed", err)
}
