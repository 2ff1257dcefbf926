package location

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/sched"
	"github.com/roach88/quickassist/internal/testutil"
)

// fakePositioner records watches and lets tests fire callbacks by hand.
type fakePositioner struct {
	next    WatchID
	active  map[WatchID]bool
	maxLive int
	onFix   map[WatchID]func(model.Fix)
	onErr   map[WatchID]func(error)
}

func newFakePositioner() *fakePositioner {
	return &fakePositioner{
		active: make(map[WatchID]bool),
		onFix:  make(map[WatchID]func(model.Fix)),
		onErr:  make(map[WatchID]func(error)),
	}
}

func (p *fakePositioner) Watch(_ WatchOptions, onFix func(model.Fix), onError func(error)) (WatchID, error) {
	p.next++
	p.active[p.next] = true
	p.onFix[p.next] = onFix
	p.onErr[p.next] = onError
	if len(p.active) > p.maxLive {
		p.maxLive = len(p.active)
	}
	return p.next, nil
}

func (p *fakePositioner) ClearWatch(id WatchID) {
	delete(p.active, id)
}

// directNotifier forwards callbacks straight into the tracker, the way the
// session loop does once an event is dequeued.
type directNotifier struct {
	t *Tracker
}

func (n *directNotifier) NotifyFix(watch int64, fix model.Fix)  { n.t.HandleFix(watch, fix) }
func (n *directNotifier) NotifyFixError(watch int64, err error) { n.t.HandleFixError(watch, err) }

func newTestTracker(p Positioner) *Tracker {
	n := &directNotifier{}
	t := NewTracker(p, n, sched.NewClock(), DefaultWatchOptions(), model.DefaultFallback)
	n.t = t
	return t
}

func fixAt(lat, lng float64, at time.Time) model.Fix {
	return model.Fix{Coordinate: model.Coordinate{Lat: lat, Lng: lng}, At: at}
}

func TestTracker_StartWithoutCapability(t *testing.T) {
	tr := newTestTracker(Unavailable{})

	err := tr.Start()
	require.ErrorIs(t, err, ErrCapabilityUnavailable)
	assert.Equal(t, StatusIdle, tr.Status())
	assert.False(t, tr.Active())

	c, ok := tr.Coordinate()
	require.True(t, ok, "searches still get an origin")
	assert.Equal(t, model.DefaultFallback, c)
	assert.Equal(t, model.SourceFallback, tr.Source())
}

func TestTracker_AtMostOneWatch(t *testing.T) {
	p := newFakePositioner()
	tr := newTestTracker(p)

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Start())
		assert.Len(t, p.active, 1)
	}
	tr.Stop()
	tr.Stop()
	assert.Empty(t, p.active)
	assert.Equal(t, 1, p.maxLive, "never more than one live handle")
	assert.Equal(t, StatusIdle, tr.Status())
}

func TestTracker_FixGoesLive(t *testing.T) {
	p := newFakePositioner()
	tr := newTestTracker(p)
	require.NoError(t, tr.Start())
	assert.Equal(t, StatusLocating, tr.Status())

	p.onFix[1](fixAt(20.35, 85.81, time.Unix(100, 0)))

	assert.Equal(t, StatusLive, tr.Status())
	c, _ := tr.Coordinate()
	assert.Equal(t, model.Coordinate{Lat: 20.35, Lng: 85.81}, c)
	assert.Equal(t, model.SourceLive, tr.Source())
}

func TestTracker_ErrorAfterLiveKeepsCoordinate(t *testing.T) {
	p := newFakePositioner()
	tr := newTestTracker(p)
	require.NoError(t, tr.Start())

	p.onFix[1](fixAt(20.35, 85.81, time.Unix(100, 0)))
	p.onErr[1](ErrFixTimeout)

	assert.Equal(t, StatusLost, tr.Status())
	c, _ := tr.Coordinate()
	assert.Equal(t, model.Coordinate{Lat: 20.35, Lng: 85.81}, c, "fallback must not replace a live fix")
	assert.Equal(t, model.SourceLive, tr.Source())
}

func TestTracker_ErrorWithoutFixFallsBackOnce(t *testing.T) {
	p := newFakePositioner()
	tr := newTestTracker(p)
	require.NoError(t, tr.Start())

	p.onErr[1](ErrFixTimeout)
	assert.Equal(t, StatusLost, tr.Status())
	c, ok := tr.Coordinate()
	require.True(t, ok)
	assert.Equal(t, model.DefaultFallback, c)

	p.onFix[1](fixAt(19.81, 85.83, time.Unix(200, 0)))
	c, _ = tr.Coordinate()
	assert.Equal(t, model.Coordinate{Lat: 19.81, Lng: 85.83}, c, "a live fix supersedes the fallback")

	p.onErr[1](errors.New("denied"))
	c, _ = tr.Coordinate()
	assert.Equal(t, model.Coordinate{Lat: 19.81, Lng: 85.83}, c)
}

func TestTracker_OlderFixIgnored(t *testing.T) {
	p := newFakePositioner()
	tr := newTestTracker(p)
	require.NoError(t, tr.Start())

	p.onFix[1](fixAt(1, 1, time.Unix(200, 0)))
	p.onFix[1](fixAt(2, 2, time.Unix(100, 0)))

	c, _ := tr.Coordinate()
	assert.Equal(t, model.Coordinate{Lat: 1, Lng: 1}, c)
}

func TestTracker_StaleWatchCallbacksDiscarded(t *testing.T) {
	p := newFakePositioner()
	tr := newTestTracker(p)
	require.NoError(t, tr.Start())
	oldFix := p.onFix[1]
	oldErr := p.onErr[1]

	require.NoError(t, tr.Start())
	oldFix(fixAt(5, 5, time.Unix(300, 0)))
	oldErr(ErrFixTimeout)

	assert.Equal(t, StatusLocating, tr.Status())
	_, ok := tr.Coordinate()
	assert.False(t, ok, "superseded watch must not write a coordinate")

	tr.Stop()
	p.onFix[2](fixAt(6, 6, time.Unix(400, 0)))
	assert.Equal(t, StatusIdle, tr.Status(), "callbacks after stop are no-ops")
}

func TestTracker_InvalidFixIsAnError(t *testing.T) {
	p := newFakePositioner()
	tr := newTestTracker(p)
	require.NoError(t, tr.Start())

	p.onFix[1](fixAt(123, 0, time.Unix(1, 0)))
	assert.Equal(t, StatusLost, tr.Status())
	c, _ := tr.Coordinate()
	assert.Equal(t, model.DefaultFallback, c)
}

func TestTracker_NonFiniteFixIsAnError(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
	}{
		{"nan", math.NaN(), math.NaN()},
		{"nan longitude", 20.35, math.NaN()},
		{"infinite latitude", math.Inf(1), 85.81},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePositioner()
			tr := newTestTracker(p)
			require.NoError(t, tr.Start())

			p.onFix[1](fixAt(tt.lat, tt.lng, time.Unix(1, 0)))
			assert.Equal(t, StatusLost, tr.Status())
			assert.Equal(t, model.SourceFallback, tr.Source())
			c, _ := tr.Coordinate()
			assert.Equal(t, model.DefaultFallback, c)
		})
	}
}

func TestTracker_NaNFixKeepsLiveCoordinate(t *testing.T) {
	p := newFakePositioner()
	tr := newTestTracker(p)
	require.NoError(t, tr.Start())

	p.onFix[1](fixAt(20.35, 85.81, time.Unix(100, 0)))
	p.onFix[1](fixAt(math.NaN(), math.NaN(), time.Unix(200, 0)))

	assert.Equal(t, StatusLost, tr.Status())
	c, _ := tr.Coordinate()
	assert.Equal(t, model.Coordinate{Lat: 20.35, Lng: 85.81}, c)
	assert.Equal(t, model.SourceLive, tr.Source())
}

func TestTracker_Reset(t *testing.T) {
	p := newFakePositioner()
	tr := newTestTracker(p)
	require.NoError(t, tr.Start())
	p.onFix[1](fixAt(1, 1, time.Unix(1, 0)))

	tr.Reset()
	assert.Empty(t, p.active)
	_, ok := tr.Coordinate()
	assert.False(t, ok)
	assert.Equal(t, StatusIdle, tr.Status())
}

func TestScripted_ReplaysRouteAndStops(t *testing.T) {
	s := testutil.NewManualScheduler()
	route := Route{Steps: []RouteStep{
		{After: time.Second, Lat: 20.3, Lng: 85.8},
		{After: 2 * time.Second, Error: "timeout"},
		{After: time.Second, Lat: 20.4, Lng: 85.9},
	}}
	p := NewScripted(route, s, func() time.Time { return time.Unix(0, 0) })
	tr := newTestTracker(p)
	require.NoError(t, tr.Start())

	s.Advance(time.Second)
	assert.Equal(t, StatusLive, tr.Status())

	s.Advance(2 * time.Second)
	assert.Equal(t, StatusLost, tr.Status())

	tr.Stop()
	assert.Equal(t, 0, p.ActiveWatches())
	s.Advance(time.Hour)
	c, _ := tr.Coordinate()
	assert.Equal(t, model.Coordinate{Lat: 20.3, Lng: 85.8}, c, "cleared watch delivers nothing")
}

func TestScripted_SlowStepTimesOutAtTimeout(t *testing.T) {
	s := testutil.NewManualScheduler()
	route := Route{Steps: []RouteStep{
		{After: time.Second, Lat: 20.3, Lng: 85.8},
		{After: time.Minute, Lat: 20.4, Lng: 85.9},
	}}
	p := NewScripted(route, s, nil)

	var fixes int
	var errs []error
	_, err := p.Watch(WatchOptions{Timeout: 10 * time.Second},
		func(model.Fix) { fixes++ },
		func(err error) { errs = append(errs, err) },
	)
	require.NoError(t, err)

	s.Advance(time.Second)
	assert.Equal(t, 1, fixes)
	assert.Empty(t, errs)

	s.Advance(9*time.Second + time.Millisecond)
	assert.Empty(t, errs, "timeout has not elapsed yet")

	s.Advance(time.Second)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrFixTimeout)

	s.Advance(time.Hour)
	assert.Equal(t, 1, fixes, "the slow fix is never delivered")
	assert.Len(t, errs, 1)
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "Live Tracking On", StatusLive.StatusText())
	assert.Equal(t, "Signal Lost", StatusLost.StatusText())
	assert.Equal(t, "Locating...", StatusLocating.StatusText())
	assert.Equal(t, "", StatusIdle.StatusText())
}
