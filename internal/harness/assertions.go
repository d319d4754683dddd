package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/gridsync/internal/record"
)

// AssertionError is returned when an assertion fails.
// It includes the request log to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Requests []string // Full request log for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Requests) > 0 {
		fmt.Fprintf(&buf, "\nRequests:\n")
		for i, line := range e.Requests {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}
	return buf.String()
}

func (r *Result) fail(typ, expected, actual string) error {
	return &AssertionError{Type: typ, Expected: expected, Actual: actual, Requests: r.Requests}
}

// assertRequests checks the request log exactly.
func assertRequests(r *Result, a Assertion) error {
	if slices.Equal(r.Requests, a.Requests) {
		return nil
	}
	return r.fail(AssertRequests, fmt.Sprintf("%q", a.Requests), fmt.Sprintf("%q", r.Requests))
}

// assertRequestCount checks how many requests of one operation were made.
func assertRequestCount(r *Result, a Assertion) error {
	if a.Count == nil {
		return fmt.Errorf("request_count assertion requires count")
	}
	op, err := parseOp(a.Op)
	if err != nil {
		return err
	}
	prefix := methodPrefix(string(op))
	n := 0
	for _, line := range r.Requests {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	if n != *a.Count {
		return r.fail(AssertRequestCount, fmt.Sprintf("%d %s requests", *a.Count, op), fmt.Sprintf("%d", n))
	}
	return nil
}

func methodPrefix(op string) string {
	switch op {
	case "keyset":
		return "GET "
	case "create":
		return "POST "
	case "update":
		return "PATCH "
	case "delete":
		return "DELETE "
	}
	return op
}

func assertRequestContains(r *Result, a Assertion) error {
	if slices.Contains(r.Requests, a.Request) {
		return nil
	}
	return r.fail(AssertRequestContains, a.Request, "not found in request log")
}

// assertRequestOrder checks that the lines appear in order. They need not
// be consecutive.
func assertRequestOrder(r *Result, a Assertion) error {
	next := 0
	for _, line := range r.Requests {
		if next < len(a.Requests) && line == a.Requests[next] {
			next++
		}
	}
	if next == len(a.Requests) {
		return nil
	}
	return r.fail(AssertRequestOrder, fmt.Sprintf("requests in order: %q", a.Requests), fmt.Sprintf("missing or out of order: %q", a.Requests[next]))
}

// assertRow checks a subset of a rendered row's fields.
func assertRow(r *Result, a Assertion) error {
	row, ok := r.Row(a.Row, a.ID)
	if !ok {
		return r.fail(AssertRow, fmt.Sprintf("row %s rendered", rowRef(a)), "row not found")
	}
	for field, want := range a.Expect {
		norm, err := record.Normalize(want)
		if err != nil {
			return fmt.Errorf("row assertion field %q: %w", field, err)
		}
		got, present := row.Fields[field]
		if !present || !record.Equal(norm, got) {
			return r.fail(AssertRow,
				fmt.Sprintf("row %s %s = %v", rowRef(a), field, norm),
				fmt.Sprintf("%s = %v", field, got))
		}
	}
	return nil
}

func assertRowAbsent(r *Result, a Assertion) error {
	if _, ok := r.Row(a.Row, a.ID); ok {
		return r.fail(AssertRowAbsent, fmt.Sprintf("row %s not rendered", rowRef(a)), "row rendered")
	}
	return nil
}

func assertRowState(r *Result, a Assertion) error {
	row, ok := r.Row(a.Row, a.ID)
	if !ok {
		return r.fail(AssertRowState, fmt.Sprintf("row %s rendered", rowRef(a)), "row not found")
	}
	if got := r.States[row.Handle]; got != a.State {
		return r.fail(AssertRowState, fmt.Sprintf("row %s in state %s", rowRef(a), a.State), got)
	}
	return nil
}

// assertRows checks the rendered row count and the leading IDs.
func assertRows(r *Result, a Assertion) error {
	if a.Count != nil && len(r.Rows) != *a.Count {
		return r.fail(AssertRows, fmt.Sprintf("%d rows", *a.Count), fmt.Sprintf("%d rows", len(r.Rows)))
	}
	if len(a.IDs) > len(r.Rows) {
		return r.fail(AssertRows, fmt.Sprintf("leading ids %v", a.IDs), fmt.Sprintf("only %d rows", len(r.Rows)))
	}
	for i, id := range a.IDs {
		if r.Rows[i].ID != id {
			got := make([]int64, len(a.IDs))
			for j := range got {
				got[j] = r.Rows[j].ID
			}
			return r.fail(AssertRows, fmt.Sprintf("leading ids %v", a.IDs), fmt.Sprintf("%v", got))
		}
	}
	return nil
}

func assertPager(r *Result, a Assertion) error {
	if a.HasMore != nil && r.Pager.HasMore != *a.HasMore {
		return r.fail(AssertPager, fmt.Sprintf("has_more = %t", *a.HasMore), fmt.Sprintf("has_more = %t", r.Pager.HasMore))
	}
	if a.Cursor != "" && r.Pager.Cursor.String() != a.Cursor {
		return r.fail(AssertPager, fmt.Sprintf("cursor = %s", a.Cursor), fmt.Sprintf("cursor = %s", r.Pager.Cursor))
	}
	return nil
}

func assertNotices(r *Result, a Assertion) error {
	if slices.Equal(r.Notices, a.Kinds) {
		return nil
	}
	return r.fail(AssertNotices, fmt.Sprintf("%v", a.Kinds), fmt.Sprintf("%v", r.Notices))
}

func assertJournal(r *Result, a Assertion) error {
	if slices.Equal(r.Journal, a.Statuses) {
		return nil
	}
	return r.fail(AssertJournal, fmt.Sprintf("%v", a.Statuses), fmt.Sprintf("%v", r.Journal))
}

func assertQuiescent(r *Result, _ Assertion) error {
	if r.Quiescent {
		return nil
	}
	return r.fail(AssertQuiescent, "no pending operations", "engine still busy")
}

func rowRef(a Assertion) string {
	if a.Row != "" {
		return a.Row
	}
	return fmt.Sprintf("%d", a.ID)
}

var assertionFuncs = map[string]func(*Result, Assertion) error{
	AssertRequests:        assertRequests,
	AssertRequestCount:    assertRequestCount,
	AssertRequestContains: assertRequestContains,
	AssertRequestOrder:    assertRequestOrder,
	AssertRow:             assertRow,
	AssertRowAbsent:       assertRowAbsent,
	AssertRowState:        assertRowState,
	AssertRows:            assertRows,
	AssertPager:           assertPager,
	AssertNotices:         assertNotices,
	AssertJournal:         assertJournal,
	AssertQuiescent:       assertQuiescent,
}

// EvaluateAssertions runs all assertions and returns failure messages.
// Returns an empty slice if all assertions pass.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		fn, ok := assertionFuncs[a.Type]
		if !ok {
			errs = append(errs, fmt.Sprintf("assertion %d: unknown assertion type: %s", i, a.Type))
			continue
		}
		if err := fn(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err.Error()))
		}
	}
	return errs
}
