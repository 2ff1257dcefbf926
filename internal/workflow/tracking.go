package workflow

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/roach88/quickassist/internal/ledger"
	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/sched"
)

// MaxProgress is where tracking progress saturates.
const MaxProgress = 100.0

// TrackingOptions configures the simulated clock.
type TrackingOptions struct {
	Period    time.Duration
	Increment float64
}

// DefaultTrackingOptions ticks every 50ms and advances 0.3 per tick.
func DefaultTrackingOptions() TrackingOptions {
	return TrackingOptions{Period: 50 * time.Millisecond, Increment: 0.3}
}

// TrackingView is a read-only copy of the open tracking dialog.
type TrackingView struct {
	Provider model.Provider `json:"provider"`
	Progress float64        `json:"progress"`
	EntryID  string         `json:"entryId"`
	MapsURL  string         `json:"mapsUrl"`
}

// Tracking simulates travel toward a provider.
//
// INVARIANTS:
//   - progress is non-decreasing and stays in [0, MaxProgress].
//   - At most one tick timer exists; End stops it before returning.
type Tracking struct {
	sched sched.Scheduler
	clock *sched.Clock
	rec   Recorder
	opts  TrackingOptions

	active   bool
	gen      int64
	provider model.Provider
	service  string
	entryID  string
	progress float64
	timer    sched.Timer
}

// NewTracking creates a closed tracking workflow.
func NewTracking(s sched.Scheduler, clock *sched.Clock, rec Recorder, opts TrackingOptions) *Tracking {
	if opts.Period <= 0 || opts.Increment <= 0 {
		opts = DefaultTrackingOptions()
	}
	return &Tracking{sched: s, clock: clock, rec: rec, opts: opts}
}

// Begin opens the dialog for p, records a Tracking entry under service and
// starts the tick. An already open dialog is ended first.
func (t *Tracking) Begin(ctx context.Context, p model.Provider, service string) (ledger.Entry, error) {
	t.End()

	entry, err := t.rec.Record(ctx, p.Name, serviceLabel(service), model.StatusTracking)
	if err != nil {
		return ledger.Entry{}, err
	}

	gen := t.clock.Next()
	t.active = true
	t.gen = gen
	t.provider = p
	t.service = service
	t.entryID = entry.ID
	t.progress = 0
	t.timer = t.sched.Every(t.opts.Period, func() { t.Tick(gen) })

	slog.Debug("tracking started", "provider", p.ID, "generation", gen)
	return entry, nil
}

// Tick advances progress for the dialog opened with gen. Ticks for a
// closed or replaced dialog are ignored.
func (t *Tracking) Tick(gen int64) bool {
	if !t.active || gen != t.gen {
		return false
	}
	t.progress += t.opts.Increment
	if t.progress >= MaxProgress {
		t.progress = MaxProgress
		t.stopTimer()
	}
	return true
}

// End closes the dialog and cancels the tick. The history entry written by
// Begin is left as it is.
func (t *Tracking) End() {
	if !t.active {
		return
	}
	t.stopTimer()
	slog.Debug("tracking ended", "provider", t.provider.ID, "generation", t.gen, "progress", t.progress)
	t.active = false
	t.gen = 0
	t.provider = model.Provider{}
	t.service = ""
	t.entryID = ""
	t.progress = 0
}

func (t *Tracking) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Call records a Completed entry for the tracked provider.
func (t *Tracking) Call(ctx context.Context) (ledger.Entry, error) {
	if !t.active {
		return ledger.Entry{}, ErrNotOpen
	}
	return Call(ctx, t.rec, t.provider, t.service)
}

// NavigationURL returns the external maps link for the tracked provider.
// Navigation records nothing.
func (t *Tracking) NavigationURL() (string, error) {
	if !t.active {
		return "", ErrNotOpen
	}
	return MapsURL(t.provider.Address), nil
}

// Active reports whether the dialog is open.
func (t *Tracking) Active() bool { return t.active }

// Progress returns the current progress.
func (t *Tracking) Progress() float64 { return t.progress }

// Ticking reports whether a tick timer is still scheduled.
func (t *Tracking) Ticking() bool { return t.timer != nil }

// View returns a copy of the dialog, or nil when closed.
func (t *Tracking) View() *TrackingView {
	if !t.active {
		return nil
	}
	return &TrackingView{
		Provider: t.provider,
		Progress: t.progress,
		EntryID:  t.entryID,
		MapsURL:  MapsURL(t.provider.Address),
	}
}

// MapsURL builds a maps search link for an address.
func MapsURL(address string) string {
	q := url.Values{}
	q.Set("api", "1")
	q.Set("query", address)
	return "https://www.google.com/maps/search/?" + q.Encode()
}
