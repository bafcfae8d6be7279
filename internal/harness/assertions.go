package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Label())
			if event.Detail != "" {
				fmt.Fprintf(&buf, " %s", event.Detail)
			}
			if event.Outcome != "" {
				fmt.Fprintf(&buf, " -> %s", event.Outcome)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains an event with the
// label and, when given, the exact detail.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Label() != assertion.Event {
			continue
		}
		if assertion.Detail == "" || event.Detail == assertion.Detail {
			return nil
		}
	}

	expected := assertion.Event
	if assertion.Detail != "" {
		expected += fmt.Sprintf(" with detail %q", assertion.Detail)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if events appear in the specified order.
// Events don't need to be consecutive, and each expected event is matched
// after the previous match, so a label may appear more than once.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, label := range assertion.Events {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.Label() == label {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual:   fmt.Sprintf("%s (position %d) not found after %v", label, i+1, assertion.Events[:i]),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the event appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Label() == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the stored entity against the expected
// properties (subset semantics), or its absence.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	ref := txdata.Ref{Kind: assertion.Kind, Key: assertion.Key}
	entity, found, err := st.ReadEntity(ctx, ref)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("read entity %s", ref),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}

	if assertion.Absent {
		if found {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("entity %s to be absent", ref),
				Actual:   fmt.Sprintf("entity present with props %s", value.MustMarshal(entity.Props)),
			}
		}
		return nil
	}

	if !found {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("entity %s with %s", ref, formatExpect(assertion.Expect)),
			Actual:   "entity not found",
		}
	}

	// Check each expected property (subset semantics)
	for _, key := range sortedKeys(assertion.Expect) {
		expected, err := value.FromAny(assertion.Expect[key])
		if err != nil {
			return fmt.Errorf("final_state %s: property %q: %w", ref, key, err)
		}
		actual, exists := entity.Props[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("property %q to exist on %s", key, ref),
				Actual:   fmt.Sprintf("properties present: %v", entity.Props.SortedKeys()),
			}
		}
		if !value.Equal(expected, actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %s", ref, key, value.MustMarshal(expected)),
				Actual:   fmt.Sprintf("%s.%s = %s", ref, key, value.MustMarshal(actual)),
			}
		}
	}
	return nil
}

// assertMetadata checks a module's stored metadata.
func assertMetadata(ctx context.Context, st *store.Store, assertion Assertion) error {
	md, err := st.ReadModuleMetadata(ctx, assertion.Module)
	if err != nil {
		return &AssertionError{
			Type:     AssertMetadata,
			Expected: fmt.Sprintf("readable metadata for %q", assertion.Module),
			Actual:   err.Error(),
		}
	}

	switch {
	case assertion.Absent && md != nil:
		return &AssertionError{
			Type:     AssertMetadata,
			Expected: fmt.Sprintf("no metadata for %q", assertion.Module),
			Actual:   fmt.Sprintf("metadata with fingerprint %s", md.Fingerprint),
		}
	case assertion.Absent:
		return nil
	case md == nil:
		return &AssertionError{
			Type:     AssertMetadata,
			Expected: fmt.Sprintf("metadata for %q", assertion.Module),
			Actual:   "no metadata",
		}
	}

	if want := assertion.NeedsInitialization; want != nil && md.NeedsInitialization() != *want {
		return &AssertionError{
			Type:     AssertMetadata,
			Expected: fmt.Sprintf("%q needs_initialization = %t", assertion.Module, *want),
			Actual:   fmt.Sprintf("needs_initialization = %t", md.NeedsInitialization()),
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatExpect creates a human-readable description of expected properties.
func formatExpect(expect map[string]any) string {
	if len(expect) == 0 {
		return "(no properties)"
	}
	parts := make([]string, 0, len(expect))
	for _, k := range sortedKeys(expect) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, expect[k]))
	}
	return strings.Join(parts, " AND ")
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state and
// metadata assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState, AssertMetadata:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertFinalState {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertMetadata(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
