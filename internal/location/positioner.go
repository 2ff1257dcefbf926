package location

import (
	"time"

	"github.com/roach88/quickassist/internal/model"
)

// WatchOptions mirrors the platform's position-watch configuration.
type WatchOptions struct {
	HighAccuracy bool
	MaximumAge   time.Duration
	Timeout      time.Duration
}

// DefaultWatchOptions requests high accuracy, refuses cached fixes and waits
// at most ten seconds for each fix.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{HighAccuracy: true, MaximumAge: 0, Timeout: 10 * time.Second}
}

// WatchID identifies an active acquisition on a Positioner.
type WatchID int64

// Positioner is the platform positioning capability.
//
// Watch starts continuous acquisition. onFix and onError may be called from
// any goroutine until ClearWatch returns; callers must tolerate calls that
// race with ClearWatch.
type Positioner interface {
	Watch(opts WatchOptions, onFix func(model.Fix), onError func(error)) (WatchID, error)
	ClearWatch(id WatchID)
}

// Unavailable is a Positioner for platforms without positioning support.
type Unavailable struct{}

func (Unavailable) Watch(WatchOptions, func(model.Fix), func(error)) (WatchID, error) {
	return 0, ErrCapabilityUnavailable
}

func (Unavailable) ClearWatch(WatchID) {}
