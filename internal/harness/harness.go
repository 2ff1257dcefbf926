package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/quickassist/internal/catalog"
	"github.com/roach88/quickassist/internal/directory"
	"github.com/roach88/quickassist/internal/jobs"
	"github.com/roach88/quickassist/internal/ledger"
	"github.com/roach88/quickassist/internal/location"
	"github.com/roach88/quickassist/internal/session"
	"github.com/roach88/quickassist/internal/testutil"
	"github.com/roach88/quickassist/internal/trace"
)

// Epoch is the wall-clock time every scenario runs at. Ledger timestamps
// and positioning fixes use it, so traces never depend on the real clock.
var Epoch = time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)

// Option configures a harness run.
type Option func(*config)

type config struct {
	catalog *catalog.Catalog
}

// WithCatalog runs scenarios against cat instead of the embedded catalog.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(c *config) { c.catalog = cat }
}

// Harness drives one orchestrator through one scenario.
type Harness struct {
	o        *session.Orchestrator
	sched    *testutil.ManualScheduler
	dispatch *session.ManualDispatcher
	rec      *trace.Recorder
	result   *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh orchestrator and an in-memory ledger.
// Expectation and assertion failures are reported in the result; the error
// is reserved for scenarios that cannot run at all.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.catalog == nil {
		cat, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		cfg.catalog = cat
	}

	fixture, err := directory.NewFixture(s.Directory)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	h := &Harness{
		sched:    testutil.NewManualScheduler(),
		dispatch: &session.ManualDispatcher{},
		rec:      trace.NewRecorder(),
		result:   NewResult(),
	}
	h.o = session.New(cfg.catalog, fixture, h.sessionOptions(s)...)
	defer func() {
		if err := h.o.Close(); err != nil {
			slog.Debug("scenario cleanup failed", "scenario", s.Name, "error", err)
		}
	}()

	if s.Identity != nil {
		id := *s.Identity
		h.step(ctx, -1, Step{Intent: &session.Intent{Op: session.OpLogin, Identity: &id}})
	}
	for i, step := range s.Steps {
		h.step(ctx, i, step)
	}

	final, err := h.o.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("final snapshot: %w", err)
	}
	h.result.Final = final
	h.result.Trace = h.rec.Events()

	for _, msg := range EvaluateAssertions(h.result, s.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) sessionOptions(s *Scenario) []session.Option {
	now := func() time.Time { return Epoch }
	opts := []session.Option{
		session.WithScheduler(h.sched),
		session.WithDispatcher(h.dispatch),
		session.WithLedgerOptions(
			ledger.WithNow(now),
			ledger.WithIDGenerator(testutil.NewSequentialIDGenerator("h")),
		),
	}
	if s.Fallback != nil {
		opts = append(opts, session.WithFallback(*s.Fallback))
	}
	if s.Route != nil {
		opts = append(opts, session.WithPositioner(location.NewScripted(*s.Route, h.sched, now)))
	}
	if s.Jobs != nil {
		opts = append(opts, session.WithJobs(jobs.NewDemoSource(h.sched, s.Jobs.Delay)))
	}
	if s.Tracking != nil {
		opts = append(opts, session.WithTrackingOptions(*s.Tracking))
	}
	if s.DonationDelay > 0 {
		opts = append(opts, session.WithDonationDelay(s.DonationDelay))
	}
	return opts
}

// step executes one step, drains the queue, records the trace event and
// checks the step's expectations. index is -1 for the implicit login.
func (h *Harness) step(ctx context.Context, index int, step Step) {
	label := fmt.Sprintf("steps[%d] %s", index, step.Name())
	if index < 0 {
		label = "login"
	}

	rec := &StepRecord{}
	var (
		res    session.Result
		runErr error
	)
	switch {
	case step.Intent != nil:
		in := *step.Intent
		rec.Intent = &in
		res, runErr = h.o.Apply(ctx, in)
		if runErr != nil {
			rec.Error = runErr.Error()
		} else if res != (session.Result{}) {
			rec.Result = &res
		}
	case step.Advance > 0:
		rec.Advance = step.Advance.String()
		h.sched.Advance(step.Advance)
	case step.Release != "":
		rec.Service = step.Release
		if h.dispatch.Release(step.Release) {
			rec.Released = 1
		}
	case step.ReleaseAll:
		rec.Released = h.dispatch.ReleaseAll()
	}
	rec.Applied = h.o.Drain()

	snap, err := h.o.Snapshot(ctx)
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s: snapshot: %v", label, err))
		return
	}
	rec.State = summarize(snap)
	h.rec.Record(step.Name(), rec)

	h.checkExpect(label, step, runErr, res, snap)
}

func (h *Harness) checkExpect(label string, step Step, runErr error, res session.Result, snap session.Snapshot) {
	exp := step.Expect
	if exp == nil {
		exp = &Expect{}
	}

	if step.Intent != nil {
		switch {
		case exp.Error == "" && runErr != nil:
			h.result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, runErr))
			return
		case exp.Error != "" && runErr == nil:
			h.result.AddError(fmt.Sprintf("%s: expected error containing %q, got success", label, exp.Error))
			return
		case exp.Error != "" && !strings.Contains(runErr.Error(), exp.Error):
			h.result.AddError(fmt.Sprintf("%s: expected error containing %q, got %q", label, exp.Error, runErr.Error()))
			return
		}
	}

	if len(exp.Result) > 0 {
		doc, err := toDocument(res)
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s: %v", label, err))
			return
		}
		for _, msg := range checkPaths(doc, exp.Result) {
			h.result.AddError(fmt.Sprintf("%s: result %s", label, msg))
		}
	}

	if len(exp.State) > 0 {
		doc, err := toDocument(snap)
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s: %v", label, err))
			return
		}
		for _, msg := range checkPaths(doc, exp.State) {
			h.result.AddError(fmt.Sprintf("%s: state %s", label, msg))
		}
	}
}
