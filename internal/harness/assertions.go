package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the event trace to help debug the failure.
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
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] seq=%d %s\n", i+1, event.Seq, event.Event)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertEventContains:
		return assertEventContains(result.Trace, a)
	case AssertEventOrder:
		return assertEventOrder(result.Trace, a)
	case AssertEventCount:
		return assertEventCount(result.Trace, a)
	case AssertMachineState:
		return assertMachineState(result, a)
	case AssertMachineAbsent:
		return assertMachineAbsent(result, a)
	case AssertStoreIDs:
		return assertStoreIDs(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertEventContains(trace []TraceEvent, a Assertion) error {
	for _, e := range trace {
		if e.Event == a.Event {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventContains,
		Expected: fmt.Sprintf("event %s", a.Event),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEventOrder checks that the kinds appear in order. Intervening
// events are allowed; each kind matches after the previous match.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, want := range a.Events {
		found := false
		for pos < len(trace) {
			pos++
			if trace[pos-1].Event == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("no %s after position %d", want, pos),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.Event == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertMachineState checks expected fields with subset semantics.
// Supported keys: name, fleet_group, fleet_reference_source_id, models.
func assertMachineState(result *Result, a Assertion) error {
	m := result.Machine(a.Machine)
	if m == nil {
		return &AssertionError{
			Type:     AssertMachineState,
			Expected: fmt.Sprintf("machine %s stored", a.Machine),
			Actual:   "machine not found",
		}
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		var actual any
		switch key {
		case "name":
			actual = m.Name
		case "fleet_group":
			actual = m.FleetGroup
		case "fleet_reference_source_id":
			actual = m.FleetReferenceSourceID
		case "models":
			actual = m.Models
		default:
			return fmt.Errorf("machine_state: unsupported field %q", key)
		}
		if !stateValuesEqual(a.Expect[key], actual) {
			return &AssertionError{
				Type:     AssertMachineState,
				Expected: fmt.Sprintf("%s.%s = %v", a.Machine, key, a.Expect[key]),
				Actual:   fmt.Sprintf("%s.%s = %v", a.Machine, key, actual),
			}
		}
	}
	return nil
}

func assertMachineAbsent(result *Result, a Assertion) error {
	if result.Machine(a.Machine) != nil {
		return &AssertionError{
			Type:     AssertMachineAbsent,
			Expected: fmt.Sprintf("no machine %s", a.Machine),
			Actual:   "machine stored",
		}
	}
	return nil
}

func assertStoreIDs(result *Result, a Assertion) error {
	got := make([]string, len(result.Machines))
	for i, m := range result.Machines {
		got[i] = m.ID
	}
	want := slices.Clone(a.IDs)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertStoreIDs,
			Expected: fmt.Sprintf("ids %v", want),
			Actual:   fmt.Sprintf("ids %v", got),
		}
	}
	return nil
}

// stateValuesEqual compares a YAML-decoded expected value with an actual
// value. YAML null and "" both match an empty string.
func stateValuesEqual(expected, actual any) bool {
	switch a := actual.(type) {
	case string:
		if expected == nil {
			return a == ""
		}
		e, ok := expected.(string)
		return ok && e == a
	case int:
		switch e := expected.(type) {
		case int:
			return e == a
		case int64:
			return e == int64(a)
		}
		return false
	default:
		return fmt.Sprint(expected) == fmt.Sprint(actual)
	}
}
