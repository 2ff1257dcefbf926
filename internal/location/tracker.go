package location

import (
	"errors"
	"log/slog"

	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/sched"
)

// Status is the acquisition state shown to the user.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusLocating Status = "locating"
	StatusLive     Status = "live"
	StatusLost     Status = "lost"
)

// Notifier receives positioning callbacks tagged with the watch generation
// that produced them. The session implements it by posting events onto its
// loop; the loop then calls HandleFix / HandleFixError.
type Notifier interface {
	NotifyFix(watch int64, fix model.Fix)
	NotifyFixError(watch int64, err error)
}

// State is a read-only view of the tracker.
type State struct {
	Coordinate *model.Coordinate     `json:"coordinate,omitempty"`
	Source     model.CoordinateSource `json:"source,omitempty"`
	Status     Status                 `json:"status"`
}

// Tracker owns the position-acquisition lifecycle.
//
// INVARIANTS:
//   - At most one positioner watch is active; Start cancels the previous one.
//   - A fallback coordinate never overwrites a live fix.
//   - The fallback is assigned at most once per tracker lifetime (until Reset).
//
// Tracker is not safe for concurrent use; it is driven from the session loop.
type Tracker struct {
	positioner Positioner
	notifier   Notifier
	clock      *sched.Clock
	opts       WatchOptions
	fallback   model.Coordinate

	status       Status
	coord        *model.Coordinate
	source       model.CoordinateSource
	lastFix      *model.Fix
	fallbackUsed bool

	watch   int64   // generation of the active watch, 0 when none
	watchID WatchID // positioner handle for watch
}

// NewTracker creates an idle tracker. A nil positioner behaves like Unavailable.
func NewTracker(p Positioner, n Notifier, clock *sched.Clock, opts WatchOptions, fallback model.Coordinate) *Tracker {
	if p == nil {
		p = Unavailable{}
	}
	return &Tracker{
		positioner: p,
		notifier:   n,
		clock:      clock,
		opts:       opts,
		fallback:   fallback,
		status:     StatusIdle,
	}
}

// Start begins continuous acquisition, cancelling any earlier watch first.
//
// If the platform has no positioning support, Start returns
// ErrCapabilityUnavailable and leaves the tracker idle. The fallback is seeded
// in that case so searches always have an origin.
func (t *Tracker) Start() error {
	t.Stop()

	gen := t.clock.Next()
	id, err := t.positioner.Watch(t.opts,
		func(fix model.Fix) { t.notifier.NotifyFix(gen, fix) },
		func(err error) { t.notifier.NotifyFixError(gen, err) },
	)
	if err != nil {
		t.status = StatusIdle
		t.SeedFallback()
		if errors.Is(err, ErrCapabilityUnavailable) {
			return err
		}
		return errors.Join(ErrCapabilityUnavailable, err)
	}

	t.watch = gen
	t.watchID = id
	t.status = StatusLocating
	slog.Debug("location watch started", "watch", gen)
	return nil
}

// Stop cancels the active watch. Safe to call when not tracking.
func (t *Tracker) Stop() {
	if t.watch == 0 {
		return
	}
	t.positioner.ClearWatch(t.watchID)
	slog.Debug("location watch cleared", "watch", t.watch)
	t.watch = 0
	t.watchID = 0
	t.status = StatusIdle
}

// Reset stops tracking and forgets every coordinate. Used on logout.
func (t *Tracker) Reset() {
	t.Stop()
	t.coord = nil
	t.source = model.SourceNone
	t.lastFix = nil
	t.fallbackUsed = false
}

// Active reports whether a watch is running.
func (t *Tracker) Active() bool {
	return t.watch != 0
}

// HandleFix applies a fix reported for watch. It returns false when the
// fix came from a superseded or cancelled watch and was discarded.
func (t *Tracker) HandleFix(watch int64, fix model.Fix) bool {
	if watch == 0 || watch != t.watch {
		return false
	}
	if err := fix.Coordinate.Validate(); err != nil {
		return t.HandleFixError(watch, errors.Join(ErrFixFailed, err))
	}

	t.status = StatusLive
	if t.source == model.SourceLive && t.lastFix != nil && !fix.At.IsZero() && fix.At.Before(t.lastFix.At) {
		// out-of-order delivery; keep the newer fix
		return true
	}
	c := fix.Coordinate
	f := fix
	t.coord = &c
	t.source = model.SourceLive
	t.lastFix = &f
	return true
}

// HandleFixError applies a positioning failure reported for watch.
func (t *Tracker) HandleFixError(watch int64, err error) bool {
	if watch == 0 || watch != t.watch {
		return false
	}
	t.status = StatusLost
	if t.coord == nil {
		t.SeedFallback()
	}
	slog.Warn("location fix failed", "watch", watch, "error", err, "source", t.source)
	return true
}

// SeedFallback returns the current coordinate, assigning the fallback first
// if no coordinate has ever been set. It never blocks on positioning.
func (t *Tracker) SeedFallback() model.Coordinate {
	if t.coord != nil {
		return *t.coord
	}
	if !t.fallbackUsed {
		t.fallbackUsed = true
		slog.Info("using fallback coordinate", "lat", t.fallback.Lat, "lng", t.fallback.Lng)
	}
	c := t.fallback
	t.coord = &c
	t.source = model.SourceFallback
	return c
}

// Coordinate returns the last known coordinate.
func (t *Tracker) Coordinate() (model.Coordinate, bool) {
	if t.coord == nil {
		return model.Coordinate{}, false
	}
	return *t.coord, true
}

// Source reports where the current coordinate came from.
func (t *Tracker) Source() model.CoordinateSource {
	return t.source
}

// Status returns the acquisition status.
func (t *Tracker) Status() Status {
	return t.status
}

// State returns a copy of the tracker state.
func (t *Tracker) State() State {
	s := State{Status: t.status, Source: t.source}
	if t.coord != nil {
		c := *t.coord
		s.Coordinate = &c
	}
	return s
}

// StatusText is the label the presentation layer shows next to the map pin.
func (s Status) StatusText() string {
	switch s {
	case StatusLocating:
		return "Locating..."
	case StatusLive:
		return "Live Tracking On"
	case StatusLost:
		return "Signal Lost"
	}
	return ""
}
