package harness

import (
	"github.com/roach88/quickassist/internal/discovery"
	"github.com/roach88/quickassist/internal/location"
	"github.com/roach88/quickassist/internal/session"
	"github.com/roach88/quickassist/internal/trace"
)

// Step names recorded in the trace for control steps. Intent steps are
// recorded under their op.
const (
	StepAdvance    = "advance"
	StepRelease    = "release"
	StepReleaseAll = "release_all"
)

// StepRecord is the trace detail of one executed step.
type StepRecord struct {
	Intent   *session.Intent `json:"intent,omitempty"`
	Advance  string          `json:"advance,omitempty"`
	Service  string          `json:"service,omitempty"`
	Released int             `json:"released,omitempty"`
	Error    string          `json:"error,omitempty"`
	Result   *session.Result `json:"result,omitempty"`
	// Applied counts queued events drained after the step.
	Applied int          `json:"applied"`
	State   StateSummary `json:"state"`
}

// StateSummary is the part of the snapshot worth keeping in a trace.
type StateSummary struct {
	Location  location.Status          `json:"location"`
	Discovery discovery.Status         `json:"discovery,omitempty"`
	Results   int                      `json:"results"`
	Dialog    session.Dialog           `json:"dialog,omitempty"`
	Progress  *float64                 `json:"progress,omitempty"`
	History   int                      `json:"history"`
	Offer     string                   `json:"offer,omitempty"`
	LastError session.RuntimeErrorCode `json:"lastError,omitempty"`
}

func summarize(s session.Snapshot) StateSummary {
	sum := StateSummary{
		Location: s.Location.Status,
		Dialog:   s.Dialog,
		History:  len(s.History),
	}
	if s.Discovery != nil {
		sum.Discovery = s.Discovery.Status
		sum.Results = len(s.Discovery.Results)
	}
	if s.Tracking != nil {
		p := s.Tracking.Progress
		sum.Progress = &p
	}
	if s.Offer != nil {
		sum.Offer = s.Offer.ID
	}
	if s.LastError != nil {
		sum.LastError = s.LastError.Code
	}
	return sum
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per executed step, in order. Detail is a
	// *StepRecord.
	Trace []trace.Event `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Final is the snapshot after the last step.
	Final session.Snapshot `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []trace.Event{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func record(e trace.Event) *StepRecord {
	rec, _ := e.Detail.(*StepRecord)
	return rec
}
