package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/quickassist/internal/directory"
	"github.com/roach88/quickassist/internal/location"
	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/session"
	"github.com/roach88/quickassist/internal/workflow"
)

// Scenario is a scripted session: who logs in, what the world answers,
// what the user does, and what must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Identity is logged in before the first step. Leave it empty to
	// exercise the logged-out session or to log in from a step.
	Identity *model.Identity `yaml:"identity,omitempty"`

	// Fallback overrides the default fallback coordinate.
	Fallback *model.Coordinate `yaml:"fallback,omitempty"`

	// Directory answers directory queries. Services not listed get the
	// default list; listed failures return an error.
	Directory directory.FixtureFile `yaml:"directory"`

	// Route scripts the positioning capability. Without it positioning is
	// unsupported.
	Route *location.Route `yaml:"route,omitempty"`

	// Jobs enables the demo job source for partner identities.
	Jobs *JobsConfig `yaml:"jobs,omitempty"`

	Tracking      *workflow.TrackingOptions `yaml:"tracking,omitempty"`
	DonationDelay time.Duration             `yaml:"donation_delay,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// JobsConfig configures the demo job source.
type JobsConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// Step is one thing that happens in a scenario. Exactly one of Intent,
// Advance, Release or ReleaseAll is set.
type Step struct {
	// Intent is applied to the orchestrator.
	Intent *session.Intent `yaml:"intent,omitempty"`

	// Advance moves the manual scheduler forward, firing due timers.
	Advance time.Duration `yaml:"advance,omitempty"`

	// Release answers the oldest held directory request for a service.
	Release string `yaml:"release,omitempty"`

	// ReleaseAll answers every held directory request in dispatch order.
	ReleaseAll bool `yaml:"release_all,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Name returns the trace step name.
func (s Step) Name() string {
	switch {
	case s.Intent != nil:
		return string(s.Intent.Op)
	case s.Advance > 0:
		return StepAdvance
	case s.Release != "":
		return StepRelease
	case s.ReleaseAll:
		return StepReleaseAll
	}
	return ""
}

func (s Step) kinds() int {
	n := 0
	if s.Intent != nil {
		n++
	}
	if s.Advance != 0 {
		n++
	}
	if s.Release != "" {
		n++
	}
	if s.ReleaseAll {
		n++
	}
	return n
}

// Expect is checked right after a step.
type Expect struct {
	// Error is a substring the intent error must contain. When empty the
	// intent must succeed.
	Error string `yaml:"error,omitempty"`

	// Result maps paths in the intent result to expected values.
	Result map[string]any `yaml:"result,omitempty"`

	// State maps paths in the snapshot to expected values.
	State map[string]any `yaml:"state,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a step with Op ran, with intent fields matching Args
	// - "trace_order": the steps in Ops ran in this order
	// - "trace_count": the step Op ran exactly Count times
	// - "final_state": the final snapshot has Equals at Path
	Type string `yaml:"type"`

	Op string `yaml:"op,omitempty"`

	// Args is a subset match on the intent, keyed as in scenario YAML.
	Args map[string]any `yaml:"args,omitempty"`

	Ops []string `yaml:"ops,omitempty"`

	Count int `yaml:"count,omitempty"`

	Path   string `yaml:"path,omitempty"`
	Equals any    `yaml:"equals,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by file
// name. Each failure is reported; valid scenarios are still returned.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	var (
		out  []*Scenario
		errs []error
	)
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, s)
	}
	return out, errors.Join(errs...)
}

// Validate checks the scenario for structural problems.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if n := step.kinds(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one of intent, advance, release, release_all is required (got %d)", i, n)
		}
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", i)
		}
		if step.Intent != nil && step.Intent.Op == "" {
			return fmt.Errorf("steps[%d]: intent op is required", i)
		}
		if step.Expect != nil && step.Intent == nil && (step.Expect.Error != "" || step.Expect.Result != nil) {
			return fmt.Errorf("steps[%d].expect: error and result apply only to intents", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
