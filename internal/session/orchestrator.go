package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/quickassist/internal/catalog"
	"github.com/roach88/quickassist/internal/directory"
	"github.com/roach88/quickassist/internal/discovery"
	"github.com/roach88/quickassist/internal/jobs"
	"github.com/roach88/quickassist/internal/ledger"
	"github.com/roach88/quickassist/internal/location"
	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/sched"
	"github.com/roach88/quickassist/internal/workflow"
)

// Orchestrator is the single-writer session state machine.
//
// Thread-safety model:
//   - Intents (Login, SelectService, ...), Drain and Snapshot: owner goroutine only
//   - Run: must be called from exactly one goroutine, which becomes the owner
//   - Do, Stop, NotifyFix, NotifyFixError: safe from any goroutine
//
// INVARIANTS:
//   - At most one Discovery Session is open.
//   - At most one dialog (tracking, booking, donation) is open.
//   - Nothing from a previous login survives Logout.
type Orchestrator struct {
	catalog    *catalog.Catalog
	directory  directory.Directory
	clock      *sched.Clock
	queue      *eventQueue
	scheduler  sched.Scheduler
	dispatcher Dispatcher
	jobs       jobs.Source
	metrics    *Metrics
	ledgerOpts []ledger.Option

	donationDelay time.Duration
	trackingOpts  workflow.TrackingOptions

	tracker   *location.Tracker
	discovery *discovery.Session

	// Per-login state. epoch is 0 while logged out.
	epoch       int64
	ctx         context.Context
	cancel      context.CancelFunc
	identity    *model.Identity
	ledger      *ledger.Ledger
	tracking    *workflow.Tracking
	booking     *workflow.Booking
	donation    *workflow.Donation
	jobSub      jobs.Subscription
	offer       *jobs.Offer
	queryCancel context.CancelFunc
	lastErr     *RuntimeError
}

// Option configures an Orchestrator.
type Option func(*Orchestrator, *options)

type options struct {
	fallback   model.Coordinate
	watch      location.WatchOptions
	positioner location.Positioner
}

// WithFallback sets the coordinate used when no fix has ever been obtained.
func WithFallback(c model.Coordinate) Option {
	return func(_ *Orchestrator, opts *options) { opts.fallback = c }
}

// WithWatchOptions overrides the positioning watch options.
func WithWatchOptions(w location.WatchOptions) Option {
	return func(_ *Orchestrator, opts *options) { opts.watch = w }
}

// WithPositioner sets the platform positioning capability. Without it the
// session behaves as if positioning is unsupported.
func WithPositioner(p location.Positioner) Option {
	return func(_ *Orchestrator, opts *options) { opts.positioner = p }
}

// WithTrackingOptions overrides the tracking tick.
func WithTrackingOptions(t workflow.TrackingOptions) Option {
	return func(o *Orchestrator, _ *options) { o.trackingOpts = t }
}

// WithDonationDelay overrides how long a donation search takes.
func WithDonationDelay(d time.Duration) Option {
	return func(o *Orchestrator, _ *options) { o.donationDelay = d }
}

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s sched.Scheduler) Option {
	return func(o *Orchestrator, _ *options) { o.scheduler = s }
}

// WithDispatcher replaces the goroutine-per-request directory dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator, _ *options) { o.dispatcher = d }
}

// WithJobs subscribes partner accounts to s at login.
func WithJobs(s jobs.Source) Option {
	return func(o *Orchestrator, _ *options) { o.jobs = s }
}

// WithMetrics records session metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator, _ *options) { o.metrics = m }
}

// WithLedgerOptions passes extra options to the ledger opened at login.
func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(o *Orchestrator, _ *options) { o.ledgerOpts = append(o.ledgerOpts, opts...) }
}

// WithClock shares a logical clock with the caller.
func WithClock(c *sched.Clock) Option {
	return func(o *Orchestrator, _ *options) { o.clock = c }
}

// New creates a logged-out orchestrator.
func New(cat *catalog.Catalog, dir directory.Directory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:      cat,
		directory:    dir,
		clock:        sched.NewClock(),
		queue:        newEventQueue(),
		scheduler:    sched.Real{},
		dispatcher:   &GoDispatcher{},
		jobs:         jobs.None{},
		trackingOpts: workflow.DefaultTrackingOptions(),
	}
	cfg := options{
		fallback: model.DefaultFallback,
		watch:    location.DefaultWatchOptions(),
	}
	for _, opt := range opts {
		opt(o, &cfg)
	}

	o.tracker = location.NewTracker(cfg.positioner, o, o.clock, cfg.watch, cfg.fallback)
	o.discovery = discovery.New(cat, o.tracker, o.clock)
	return o
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a failing event is logged and processing continues.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("session loop starting")

	for {
		if ev, ok := o.queue.TryDequeue(); ok {
			o.process(ev)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("session loop stopping: context cancelled")
			o.queue.Close()
			o.failPending()
			return ctx.Err()

		case <-o.queue.Wait():
			// A signal can outlive the event it announced, so only a
			// closed queue ends the loop.
			if o.queue.Closed() && o.queue.Len() == 0 {
				slog.Info("session loop stopping: queue closed")
				return nil
			}
		}
	}
}

// failPending answers commands left in the queue after the loop exits.
func (o *Orchestrator) failPending() {
	for {
		ev, ok := o.queue.TryDequeue()
		if !ok {
			return
		}
		if ev.kind == eventCommand {
			ev.cmd.reply <- ErrStopped
		}
	}
}

// Stop closes the event queue, which causes Run to return.
func (o *Orchestrator) Stop() {
	o.queue.Close()
}

// Do runs fn on the loop goroutine and waits for its result. It is how
// other goroutines call intents while Run owns the orchestrator.
func (o *Orchestrator) Do(ctx context.Context, fn func(*Orchestrator) error) error {
	cmd := &command{fn: fn, reply: make(chan error, 1)}
	if !o.queue.Enqueue(event{kind: eventCommand, cmd: cmd}) {
		return ErrStopped
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain applies every queued event on the calling goroutine and returns
// how many were applied. Owners that do not call Run use it after driving
// a scheduler, dispatcher or positioner.
func (o *Orchestrator) Drain() int {
	n := 0
	for {
		ev, ok := o.queue.TryDequeue()
		if !ok {
			return n
		}
		o.process(ev)
		n++
	}
}

// Settle waits for in-flight directory requests started by the default
// dispatcher, then drains the queue.
func (o *Orchestrator) Settle(ctx context.Context) error {
	if d, ok := o.dispatcher.(*GoDispatcher); ok {
		if err := d.Wait(ctx); err != nil {
			return err
		}
	}
	o.Drain()
	return nil
}

// NotifyFix implements location.Notifier.
func (o *Orchestrator) NotifyFix(watch int64, fix model.Fix) {
	o.post(event{kind: eventFix, gen: watch, fix: fix})
}

// NotifyFixError implements location.Notifier.
func (o *Orchestrator) NotifyFixError(watch int64, err error) {
	o.post(event{kind: eventFixError, gen: watch, err: err})
}

func (o *Orchestrator) post(ev event) {
	if !o.queue.Enqueue(ev) {
		slog.Debug("event dropped: session loop stopped", "kind", ev.kind)
	}
}

// process routes an event to its handler.
// CRITICAL: called only from the owner goroutine.
func (o *Orchestrator) process(ev event) {
	switch ev.kind {
	case eventFix:
		o.applyFix(ev)
	case eventFixError:
		o.applyFixError(ev)
	case eventDirectory:
		o.applyDirectory(ev)
	case eventTimer:
		if ev.gen != 0 && ev.gen == o.epoch {
			ev.fire()
		}
	case eventOffer:
		o.applyOffer(ev)
	case eventCommand:
		ev.cmd.reply <- ev.cmd.fn(o)
	default:
		logEventError(ev, fmt.Errorf("unknown event kind: %d", ev.kind))
	}
}

func (o *Orchestrator) applyFix(ev event) {
	if err := ev.fix.Coordinate.Validate(); err != nil {
		o.applyFixError(event{kind: eventFixError, gen: ev.gen, err: errors.Join(location.ErrFixFailed, err)})
		return
	}
	if !o.tracker.HandleFix(ev.gen, ev.fix) {
		o.metrics.locationUpdate("stale")
		return
	}
	o.metrics.locationUpdate("fix")
}

func (o *Orchestrator) applyFixError(ev event) {
	if !o.tracker.HandleFixError(ev.gen, ev.err) {
		o.metrics.locationUpdate("stale")
		return
	}
	o.metrics.locationUpdate("error")
	code := ErrCodeFixError
	if errors.Is(ev.err, location.ErrFixTimeout) {
		code = ErrCodeFixTimeout
	}
	o.fail(code, ev.err, map[string]string{"watch": fmt.Sprint(ev.gen)})
}

func (o *Orchestrator) applyDirectory(ev event) {
	kind := string(o.discovery.Kind())
	if kind == "" {
		kind = "closed"
	}
	outcome := o.discovery.Resolve(ev.gen, ev.providers, ev.err)
	if outcome == discovery.OutcomeStale {
		slog.Debug("stale directory response discarded",
			"generation", ev.gen,
			"current", o.discovery.Gen(),
		)
		o.metrics.runtimeError(ErrCodeStaleResponseDiscarded)
		o.metrics.discovery(kind, outcome.String())
		return
	}

	if err := o.discovery.Err(); err != nil {
		o.metrics.discovery(kind, string(discovery.StatusFailed))
		o.fail(ErrCodeDirectoryQueryFailed, err, map[string]string{"service": o.discovery.Query()})
		return
	}
	o.metrics.discovery(kind, string(discovery.StatusSucceeded))
	slog.Info("discovery resolved",
		"service", o.discovery.Query(),
		"generation", ev.gen,
		"results", len(o.discovery.Results()),
	)
}

func (o *Orchestrator) applyOffer(ev event) {
	if o.identity == nil || ev.gen != o.epoch {
		return
	}
	if err := ev.offer.Validate(); err != nil {
		logEventError(ev, err)
		return
	}
	if !ev.offer.For(*o.identity) {
		return
	}
	offer := ev.offer
	o.offer = &offer
	slog.Info("job offer received", "offer", offer.ID, "service", offer.Service)
}

// fail records an absorbed failure as observable state.
func (o *Orchestrator) fail(code RuntimeErrorCode, err error, details map[string]string) {
	o.lastErr = newRuntimeError(code, err, details)
	o.metrics.runtimeError(code)
	slog.Warn("runtime error", "code", code, "error", err)
}

// logEventError logs a failed event with enough context to reproduce it.
func logEventError(ev event, err error) {
	slog.Error("event processing failed",
		"kind", ev.kind,
		"generation", ev.gen,
		"error", err,
	)
}

// loopScheduler re-posts scheduler callbacks onto the loop, tagged with the
// login epoch so that timers from an earlier login never fire.
type loopScheduler struct {
	inner sched.Scheduler
	post  func(event)
	epoch int64
}

func (s loopScheduler) AfterFunc(d time.Duration, fn func()) sched.Timer {
	return s.inner.AfterFunc(d, func() { s.post(event{kind: eventTimer, gen: s.epoch, fire: fn}) })
}

func (s loopScheduler) Every(period time.Duration, fn func()) sched.Timer {
	return s.inner.Every(period, func() { s.post(event{kind: eventTimer, gen: s.epoch, fire: fn}) })
}

// Close logs out and stops the loop.
func (o *Orchestrator) Close() error {
	err := o.Logout()
	o.Stop()
	return err
}
