package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted session against the in-memory backend.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is inline CUE declaring one or more resources.
	Schema string `yaml:"schema,omitempty"`

	// SchemaDir is a directory of CUE resource files, relative to the
	// scenario file. Used when Schema is empty.
	SchemaDir string `yaml:"schema_dir,omitempty"`

	// Resource names the resource the session edits.
	Resource string `yaml:"resource"`

	// Backend seeds the in-memory collection.
	Backend BackendSetup `yaml:"backend"`

	// Session is the journal session ID. Defaults to the scenario name.
	Session string `yaml:"session,omitempty"`

	// Steps run in order; each one is followed by the loop settling unless
	// a held request is outstanding.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// BackendSetup describes the seeded collection.
type BackendSetup struct {
	// Items seeds rows 1..n with a name and a qty.
	Items int `yaml:"items,omitempty"`

	// Rows are seeded after Items, verbatim.
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Order is asc or desc. Defaults to the resource's order.
	Order string `yaml:"order,omitempty"`

	OpaqueCursors bool `yaml:"opaque_cursors,omitempty"`
	PrevCursors   bool `yaml:"prev_cursors,omitempty"`
}

// Step is one scripted input.
//
// Rows are addressed by server ID or, for rows added in the scenario, by
// the handle given in the add step.
type Step struct {
	Do string `yaml:"do"`

	Keyword string            `yaml:"keyword,omitempty"`
	Params  map[string]string `yaml:"params,omitempty"`

	ID     int64          `yaml:"id,omitempty"`
	Row    string         `yaml:"row,omitempty"`
	Field  string         `yaml:"field,omitempty"`
	Value  any            `yaml:"value,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`

	Duration time.Duration `yaml:"duration,omitempty"`
	Visible  bool          `yaml:"visible,omitempty"`

	// Op, Status and Message configure fail and hold steps.
	Op      string `yaml:"op,omitempty"`
	Status  int    `yaml:"status,omitempty"`
	Message string `yaml:"message,omitempty"`
}

// Step kinds.
const (
	StepSearch   = "search"
	StepLoadMore = "load_more"
	StepLoadPrev = "load_prev"
	StepSentinel = "sentinel"
	StepEdit     = "edit"
	StepAdd      = "add"
	StepDelete   = "delete"
	StepUndo     = "undo"
	StepRedo     = "redo"
	StepFlush    = "flush"
	StepAdvance  = "advance"
	StepFail     = "fail"
	StepHold     = "hold"
	StepWait     = "wait"
	StepRelease  = "release"
)

var stepKinds = map[string]bool{
	StepSearch: true, StepLoadMore: true, StepLoadPrev: true, StepSentinel: true,
	StepEdit: true, StepAdd: true, StepDelete: true, StepUndo: true, StepRedo: true,
	StepFlush: true, StepAdvance: true, StepFail: true, StepHold: true,
	StepWait: true, StepRelease: true,
}

// Assertion validates the state after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Requests is the exact request log (requests) or an ordered subsequence
	// of it (request_order).
	Requests []string `yaml:"requests,omitempty"`

	// Request is one request-log line (request_contains).
	Request string `yaml:"request,omitempty"`

	// Op and Count are used by request_count; Count also by rows.
	Op    string `yaml:"op,omitempty"`
	Count *int   `yaml:"count,omitempty"`

	// ID or Row select the row for row, row_absent and row_state.
	ID  int64  `yaml:"id,omitempty"`
	Row string `yaml:"row,omitempty"`

	// Expect is a subset of the row's fields.
	Expect map[string]any `yaml:"expect,omitempty"`

	// State is the expected row state (row_state).
	State string `yaml:"state,omitempty"`

	// IDs is the expected leading run of rendered row IDs (rows).
	IDs []int64 `yaml:"ids,omitempty"`

	// HasMore and Cursor check the pager (pager).
	HasMore *bool  `yaml:"has_more,omitempty"`
	Cursor  string `yaml:"cursor,omitempty"`

	// Kinds is the exact notice kind sequence (notices).
	Kinds []string `yaml:"kinds,omitempty"`

	// Statuses is the exact "kind/status" journal sequence (journal).
	Statuses []string `yaml:"statuses,omitempty"`
}

// Assertion type constants.
const (
	AssertRequests        = "requests"
	AssertRequestCount    = "request_count"
	AssertRequestContains = "request_contains"
	AssertRequestOrder    = "request_order"
	AssertRow             = "row"
	AssertRowAbsent       = "row_absent"
	AssertRowState        = "row_state"
	AssertRows            = "rows"
	AssertPager           = "pager"
	AssertNotices         = "notices"
	AssertJournal         = "journal"
	AssertQuiescent       = "quiescent"
)

var assertionTypes = map[string]bool{
	AssertRequests: true, AssertRequestCount: true, AssertRequestContains: true,
	AssertRequestOrder: true, AssertRow: true, AssertRowAbsent: true,
	AssertRowState: true, AssertRows: true, AssertPager: true,
	AssertNotices: true, AssertJournal: true, AssertQuiescent: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative schema_dir is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.SchemaDir != "" && !filepath.IsAbs(scenario.SchemaDir) {
		scenario.SchemaDir = filepath.Join(filepath.Dir(path), scenario.SchemaDir)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" && s.SchemaDir == "" {
		return fmt.Errorf("schema or schema_dir is required")
	}
	if s.Resource == "" {
		return fmt.Errorf("resource is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	switch s.Backend.Order {
	case "", "asc", "desc":
	default:
		return fmt.Errorf("backend.order must be asc or desc, got %q", s.Backend.Order)
	}

	for i, st := range s.Steps {
		if !stepKinds[st.Do] {
			return fmt.Errorf("step %d: unknown step %q", i, st.Do)
		}
		switch st.Do {
		case StepEdit:
			if st.Field == "" {
				return fmt.Errorf("step %d: edit requires field", i)
			}
			if st.ID == 0 && st.Row == "" {
				return fmt.Errorf("step %d: edit requires id or row", i)
			}
		case StepDelete:
			if st.ID == 0 && st.Row == "" {
				return fmt.Errorf("step %d: delete requires id or row", i)
			}
		case StepAdd:
			if st.Row == "" {
				return fmt.Errorf("step %d: add requires row", i)
			}
		case StepAdvance:
			if st.Duration <= 0 {
				return fmt.Errorf("step %d: advance requires a positive duration", i)
			}
		case StepFail, StepHold:
			if _, err := parseOp(st.Op); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if !assertionTypes[a.Type] {
			return fmt.Errorf("assertion %d: unknown type %q", i, a.Type)
		}
	}
	return nil
}
