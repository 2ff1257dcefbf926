package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/quickassist/internal/trace"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Trace    []trace.Event // Full trace for debugging context
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
			line := event.Step
			if rec := record(event); rec != nil && rec.Error != "" {
				line += " (error: " + rec.Error + ")"
			}
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, line)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// assertTraceContains checks that a step with the op ran and that its
// intent matches the assertion args (subset semantics).
func assertTraceContains(events []trace.Event, a Assertion) error {
	for _, event := range events {
		if event.Step != a.Op {
			continue
		}
		if len(a.Args) == 0 {
			return nil
		}
		rec := record(event)
		if rec == nil || rec.Intent == nil {
			continue
		}
		fields, err := yamlFields(rec.Intent)
		if err != nil {
			return err
		}
		if matchArgs(fields, a.Args) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("step %s with args %v", a.Op, a.Args),
		Actual:   "not found in trace",
		Trace:    events,
	}
}

// assertTraceOrder checks that the first occurrence of each op comes in
// the given order. Other steps may run in between.
func assertTraceOrder(events []trace.Event, a Assertion) error {
	positions := make(map[string]int)
	for _, event := range events {
		if _, seen := positions[event.Step]; !seen {
			positions[event.Step] = event.Seq
		}
	}

	for _, op := range a.Ops {
		if _, ok := positions[op]; !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all steps present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing step: %s", op),
				Trace:    events,
			}
		}
	}

	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("steps in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: events,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the op ran exactly Count times.
func assertTraceCount(events []trace.Event, a Assertion) error {
	count := 0
	for _, event := range events {
		if event.Step == a.Op {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    events,
		}
	}
	return nil
}

// assertFinalState checks one path of the final snapshot.
func assertFinalState(result *Result, a Assertion) error {
	doc, err := toDocument(result.Final)
	if err != nil {
		return err
	}
	actual, _ := lookup(doc, a.Path)
	if !valuesEqual(a.Equals, actual) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %s", a.Path, render(a.Equals)),
			Actual:   fmt.Sprintf("%s = %s", a.Path, render(actual)),
		}
	}
	return nil
}

// checkPaths compares every expected path against doc and returns one
// message per mismatch, in path order.
func checkPaths(doc any, expected map[string]any) []string {
	paths := make([]string, 0, len(expected))
	for p := range expected {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []string
	for _, p := range paths {
		actual, _ := lookup(doc, p)
		if !valuesEqual(expected[p], actual) {
			out = append(out, fmt.Sprintf("%s: expected %s, got %s", p, render(expected[p]), render(actual)))
		}
	}
	return out
}

// toDocument converts v to its generic JSON form.
func toDocument(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return doc, nil
}

// lookup resolves a dotted path in a generic JSON document.
func lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			if seg == "#" {
				cur = json.Number(strconv.Itoa(len(node)))
				continue
			}
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if seg == "#" {
				cur = json.Number(strconv.Itoa(len(node)))
				continue
			}
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// valuesEqual compares an expected YAML value with an actual JSON value by
// their canonical encodings, so 100 and 100.0 and "x" and "x" agree.
func valuesEqual(expected, actual any) bool {
	e, err := trace.MarshalCanonical(expected)
	if err != nil {
		return false
	}
	a, err := trace.MarshalCanonical(actual)
	if err != nil {
		return false
	}
	return bytes.Equal(e, a)
}

func render(v any) string {
	b, err := trace.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// yamlFields returns v's fields keyed the way scenario YAML spells them.
func yamlFields(v any) (map[string]any, error) {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// matchArgs reports whether actual contains every expected key with an
// equal value.
func matchArgs(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !valuesEqual(want, got) {
			return false
		}
	}
	return true
}
