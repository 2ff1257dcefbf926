package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quickassist/internal/catalog"
	"github.com/roach88/quickassist/internal/directory"
	"github.com/roach88/quickassist/internal/discovery"
	"github.com/roach88/quickassist/internal/jobs"
	"github.com/roach88/quickassist/internal/ledger"
	"github.com/roach88/quickassist/internal/location"
	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/testutil"
	"github.com/roach88/quickassist/internal/workflow"
)

// fakePositioner hands watch callbacks to the test.
type fakePositioner struct {
	mu      sync.Mutex
	next    location.WatchID
	active  map[location.WatchID]bool
	onFix   map[location.WatchID]func(model.Fix)
	onError map[location.WatchID]func(error)
	last    location.WatchID
}

func newFakePositioner() *fakePositioner {
	return &fakePositioner{
		active:  make(map[location.WatchID]bool),
		onFix:   make(map[location.WatchID]func(model.Fix)),
		onError: make(map[location.WatchID]func(error)),
	}
}

func (p *fakePositioner) Watch(_ location.WatchOptions, onFix func(model.Fix), onError func(error)) (location.WatchID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.active[p.next] = true
	p.onFix[p.next] = onFix
	p.onError[p.next] = onError
	p.last = p.next
	return p.next, nil
}

func (p *fakePositioner) ClearWatch(id location.WatchID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}

func (p *fakePositioner) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// fix delivers a fix through the most recent watch, even after it was cleared.
func (p *fakePositioner) fix(lat, lng float64) {
	p.mu.Lock()
	fn := p.onFix[p.last]
	p.mu.Unlock()
	fn(model.Fix{Coordinate: model.Coordinate{Lat: lat, Lng: lng}, At: time.Now()})
}

func (p *fakePositioner) fail(err error) {
	p.mu.Lock()
	fn := p.onError[p.last]
	p.mu.Unlock()
	fn(err)
}

type query struct {
	service string
	origin  model.Coordinate
}

type testSession struct {
	o       *Orchestrator
	sched   *testutil.ManualScheduler
	disp    *ManualDispatcher
	pos     *fakePositioner
	mu      sync.Mutex
	queries []query
	answer  func(service string) ([]model.Provider, error)
}

func mechanics() []model.Provider {
	return []model.Provider{
		{ID: "p1", Name: "Kalinga Auto Works", Category: "Puncture Repair", Rating: 4.6, ReviewCount: 120, Address: "Grand Road, Puri", Mobile: "9437012345", IsOpen: true},
		{ID: "p2", Name: "Tyre Point", Category: "Puncture Repair", Rating: 4.1, ReviewCount: 45, Address: "Station Square, Bhubaneswar", Mobile: model.MobileUnavailable, IsOpen: false},
	}
}

func priests() []model.Provider {
	return []model.Provider{
		{ID: "pr1", Name: "Pandit Raghunath Mishra", Category: "Priest Booking", Rating: 4.8, ReviewCount: 80, Address: "Old Town, Bhubaneswar", Mobile: "9861000001", IsOpen: true},
	}
}

func newTestSession(t *testing.T, opts ...Option) *testSession {
	t.Helper()
	ts := &testSession{
		sched: testutil.NewManualScheduler(),
		disp:  &ManualDispatcher{},
		pos:   newFakePositioner(),
	}
	ts.answer = func(service string) ([]model.Provider, error) {
		switch catalog.Normalize(service) {
		case catalog.Normalize("Puncture Repair"):
			return mechanics(), nil
		case catalog.Normalize("Priest Booking"):
			return priests(), nil
		case catalog.Normalize("Ambulance"):
			return nil, directory.ErrUnavailable
		}
		return []model.Provider{}, nil
	}
	dir := directory.Func(func(_ context.Context, service string, origin model.Coordinate) ([]model.Provider, error) {
		ts.mu.Lock()
		ts.queries = append(ts.queries, query{service: service, origin: origin})
		answer := ts.answer
		ts.mu.Unlock()
		return answer(service)
	})

	base := []Option{
		WithScheduler(ts.sched),
		WithDispatcher(ts.disp),
		WithPositioner(ts.pos),
		WithLedgerOptions(ledger.WithIDGenerator(testutil.NewSequentialIDGenerator("h"))),
	}
	ts.o = New(catalog.MustDefault(), dir, append(base, opts...)...)
	t.Cleanup(func() { ts.o.Close() })
	return ts
}

func seeker() model.Identity {
	return model.Identity{ID: "9000000001", FullName: "Asha Rath", Mobile: "9000000001", Role: model.RoleSeeker}
}

func partner() model.Identity {
	return model.Identity{ID: "9000000002", FullName: "Bikash Sahu", Mobile: "9000000002", Role: model.RolePartner, Profession: "Plumber"}
}

func (ts *testSession) login(t *testing.T) {
	t.Helper()
	require.NoError(t, ts.o.Login(context.Background(), seeker()))
}

// search selects service and delivers its directory response.
func (ts *testSession) search(t *testing.T, service string) {
	t.Helper()
	require.NoError(t, ts.o.SelectService(service))
	ts.disp.Release(service)
	ts.o.Drain()
}

func (ts *testSession) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := ts.o.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func TestIntents_RequireLogin(t *testing.T) {
	ts := newTestSession(t)
	ctx := context.Background()

	checks := map[string]error{
		"SelectService":      ts.o.SelectService("Plumber"),
		"ReturnToCategories": ts.o.ReturnToCategories(),
		"StartLocating":      ts.o.StartLocating(),
		"StopLocating":       ts.o.StopLocating(),
		"EndTracking":        ts.o.EndTracking(),
		"OpenBooking":        ts.o.OpenBooking("p1"),
		"SetBookingOccasion": ts.o.SetBookingOccasion("Puja"),
		"SetBookingDate":     ts.o.SetBookingDate("tomorrow"),
		"CancelBooking":      ts.o.CancelBooking(),
		"OpenDonation":       ts.o.OpenDonation(),
		"SearchDonation":     ts.o.SearchDonation("Blood", "O+"),
		"CloseDonation":      ts.o.CloseDonation(),
		"DeleteHistory":      ts.o.DeleteHistory(ctx, "h-1"),
		"SetAvatar":          ts.o.SetAvatar("avatar.png"),
		"DeclineJob":         ts.o.DeclineJob(),
	}
	for name, err := range checks {
		assert.ErrorIs(t, err, ErrNotAuthenticated, name)
	}

	_, err := ts.o.BeginTracking(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = ts.o.CallProvider(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = ts.o.NavigateExternally("p1")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, _, err = ts.o.ConfirmBooking(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = ts.o.History(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = ts.o.SubmitReview(ctx, "h-1", 5, "Great")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = ts.o.AcceptJob(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	s := ts.snapshot(t)
	assert.False(t, s.Authenticated)
	assert.Empty(t, s.History)
	assert.NotNil(t, s.History)
}

func TestLogin_RejectsInvalidIdentity(t *testing.T) {
	ts := newTestSession(t)

	err := ts.o.Login(context.Background(), model.Identity{ID: "", Role: model.RoleSeeker})
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	err = ts.o.Login(context.Background(), model.Identity{ID: "1", Role: "admin"})
	assert.ErrorIs(t, err, ErrInvalidIdentity)
	assert.False(t, ts.o.Authenticated())
}

func TestSelectService_NoFixUsesFallbackOrigin(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	require.NoError(t, ts.o.SelectService("Puncture Repair"))
	s := ts.snapshot(t)
	require.NotNil(t, s.Discovery)
	assert.Equal(t, discovery.StatusPending, s.Discovery.Status)
	assert.Equal(t, "Searching nearby...", s.Discovery.StatusText)
	assert.Equal(t, model.Coordinate{Lat: 20.2961, Lng: 85.8245}, s.Discovery.Origin)
	assert.Equal(t, model.SourceFallback, s.Location.Source)

	require.True(t, ts.disp.Release("Puncture Repair"))
	assert.Equal(t, 1, ts.o.Drain())

	s = ts.snapshot(t)
	assert.Equal(t, discovery.StatusSucceeded, s.Discovery.Status)
	assert.Equal(t, mechanics(), s.Discovery.Results)
	require.Len(t, ts.queries, 1)
	assert.Equal(t, model.DefaultFallback, ts.queries[0].origin)
}

func TestSelectService_LandmarksAnsweredFromCatalog(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	require.NoError(t, ts.o.SelectService("temple locations"))
	assert.Empty(t, ts.disp.Pending())

	s := ts.snapshot(t)
	require.NotNil(t, s.Discovery)
	assert.Equal(t, discovery.StatusSucceeded, s.Discovery.Status)
	assert.Equal(t, catalog.KindLandmark, s.Discovery.Kind)
	assert.Equal(t, catalog.MustDefault().Landmarks(), s.Discovery.Results)
	assert.Len(t, s.Discovery.Results, 8)
	assert.Empty(t, ts.queries)
}

func TestSelectService_EmptyName(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	assert.ErrorIs(t, ts.o.SelectService("   "), discovery.ErrEmptyService)
	assert.Nil(t, ts.snapshot(t).Discovery)
}

func TestDiscovery_FailureIsObservableState(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	ts.search(t, "Ambulance")

	s := ts.snapshot(t)
	require.NotNil(t, s.Discovery)
	assert.Equal(t, discovery.StatusFailed, s.Discovery.Status)
	assert.Equal(t, "Failed to fetch data.", s.Discovery.StatusText)
	assert.Empty(t, s.Discovery.Results)
	require.NotNil(t, s.LastError)
	assert.Equal(t, ErrCodeDirectoryQueryFailed, s.LastError.Code)
	assert.Equal(t, "Ambulance", s.LastError.Details["service"])
}

func TestDiscovery_MalformedResponseFails(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.answer = func(string) ([]model.Provider, error) {
		return []model.Provider{{ID: "x", Name: "Bad", Rating: 7, Address: "a", Mobile: "1"}}, nil
	}

	ts.search(t, "Plumber")

	s := ts.snapshot(t)
	assert.Equal(t, discovery.StatusFailed, s.Discovery.Status)
	assert.Empty(t, s.Discovery.Results)
}

func TestDiscovery_DuplicateIDsFail(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.answer = func(string) ([]model.Provider, error) {
		m := mechanics()
		m[1].ID = m[0].ID
		return m, nil
	}

	ts.search(t, "Puncture Repair")

	s := ts.snapshot(t)
	assert.Equal(t, discovery.StatusFailed, s.Discovery.Status)
	assert.Empty(t, s.Discovery.Results)
	require.NotNil(t, s.LastError)
	assert.Equal(t, ErrCodeDirectoryQueryFailed, s.LastError.Code)
	_, err := ts.o.BeginTracking(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestDiscovery_StaleResponseAfterNewerSelection(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	require.NoError(t, ts.o.SelectService("Puncture Repair"))
	require.NoError(t, ts.o.SelectService("Priest Booking"))

	// the older response arrives first
	require.True(t, ts.disp.Release("Puncture Repair"))
	ts.o.Drain()
	s := ts.snapshot(t)
	assert.Equal(t, "Priest Booking", s.Discovery.Query)
	assert.Equal(t, discovery.StatusPending, s.Discovery.Status)
	assert.Empty(t, s.Discovery.Results)

	require.True(t, ts.disp.Release("Priest Booking"))
	ts.o.Drain()
	s = ts.snapshot(t)
	assert.Equal(t, discovery.StatusSucceeded, s.Discovery.Status)
	assert.Equal(t, priests(), s.Discovery.Results)
}

func TestDiscovery_ResponseAfterReturnIsDiscarded(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	require.NoError(t, ts.o.SelectService("Puncture Repair"))
	require.NoError(t, ts.o.ReturnToCategories())
	require.True(t, ts.disp.Release("Puncture Repair"))
	ts.o.Drain()

	s := ts.snapshot(t)
	assert.Nil(t, s.Discovery)
	assert.Nil(t, s.LastError)
}

func TestDiscovery_ReturnCancelsQueryContext(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	var seen error
	ts.o.directory = directory.Func(func(ctx context.Context, _ string, _ model.Coordinate) ([]model.Provider, error) {
		seen = ctx.Err()
		return nil, ctx.Err()
	})

	require.NoError(t, ts.o.SelectService("Plumber"))
	require.NoError(t, ts.o.ReturnToCategories())
	ts.disp.ReleaseAll()
	ts.o.Drain()

	assert.ErrorIs(t, seen, context.Canceled)
	assert.Nil(t, ts.snapshot(t).LastError)
}

func TestDiscovery_OriginFixedAtOpen(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	require.NoError(t, ts.o.StartLocating())
	ts.pos.fix(19.81, 85.83)
	ts.o.Drain()

	require.NoError(t, ts.o.SelectService("Puncture Repair"))
	ts.pos.fix(19.90, 85.90)
	ts.o.Drain()
	ts.disp.Release("Puncture Repair")
	ts.o.Drain()

	s := ts.snapshot(t)
	assert.Equal(t, model.Coordinate{Lat: 19.81, Lng: 85.83}, s.Discovery.Origin)
	assert.Equal(t, model.Coordinate{Lat: 19.81, Lng: 85.83}, ts.queries[0].origin)
	require.NotNil(t, s.Location.Coordinate)
	assert.Equal(t, model.Coordinate{Lat: 19.90, Lng: 85.90}, *s.Location.Coordinate)
}

func TestLocating_LiveFixSurvivesLaterError(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	require.NoError(t, ts.o.StartLocating())
	assert.Equal(t, "Locating...", ts.snapshot(t).LocationText)

	ts.pos.fix(19.81, 85.83)
	ts.o.Drain()
	assert.Equal(t, location.StatusLive, ts.snapshot(t).Location.Status)
	assert.Equal(t, "Live Tracking On", ts.snapshot(t).LocationText)

	ts.pos.fail(location.ErrFixTimeout)
	ts.o.Drain()

	s := ts.snapshot(t)
	assert.Equal(t, location.StatusLost, s.Location.Status)
	assert.Equal(t, "Signal Lost", s.LocationText)
	assert.Equal(t, model.SourceLive, s.Location.Source)
	assert.Equal(t, model.Coordinate{Lat: 19.81, Lng: 85.83}, *s.Location.Coordinate)
	require.NotNil(t, s.LastError)
	assert.Equal(t, ErrCodeFixTimeout, s.LastError.Code)
}

func TestLocating_NaNFixIsFixError(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	require.NoError(t, ts.o.StartLocating())
	ts.pos.fix(math.NaN(), math.NaN())
	ts.o.Drain()

	s := ts.snapshot(t)
	assert.Equal(t, location.StatusLost, s.Location.Status)
	assert.Equal(t, model.SourceFallback, s.Location.Source)
	assert.Equal(t, model.DefaultFallback, *s.Location.Coordinate)
	require.NotNil(t, s.LastError)
	assert.Equal(t, ErrCodeFixError, s.LastError.Code)

	ts.search(t, "Puncture Repair")
	assert.Equal(t, model.DefaultFallback, ts.snapshot(t).Discovery.Origin)
}

func TestLocating_ErrorWithoutFixSeedsFallback(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	require.NoError(t, ts.o.StartLocating())
	ts.pos.fail(errors.New("permission denied"))
	ts.o.Drain()

	s := ts.snapshot(t)
	assert.Equal(t, location.StatusLost, s.Location.Status)
	assert.Equal(t, model.SourceFallback, s.Location.Source)
	assert.Equal(t, model.DefaultFallback, *s.Location.Coordinate)
	assert.Equal(t, ErrCodeFixError, s.LastError.Code)
}

func TestLocating_AtMostOneWatch(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, ts.o.StartLocating())
		assert.Equal(t, 1, ts.pos.activeCount())
	}
	require.NoError(t, ts.o.StopLocating())
	require.NoError(t, ts.o.StopLocating())
	assert.Equal(t, 0, ts.pos.activeCount())

	// a callback racing with the clear is ignored
	ts.pos.fix(1, 1)
	ts.o.Drain()
	assert.Equal(t, location.StatusIdle, ts.snapshot(t).Location.Status)
}

func TestLocating_CapabilityUnavailable(t *testing.T) {
	ts := newTestSession(t, WithPositioner(location.Unavailable{}))
	ts.login(t)

	err := ts.o.StartLocating()
	assert.ErrorIs(t, err, location.ErrCapabilityUnavailable)

	s := ts.snapshot(t)
	assert.Equal(t, location.StatusIdle, s.Location.Status)
	assert.Equal(t, model.DefaultFallback, *s.Location.Coordinate)
	require.NotNil(t, s.LastError)
	assert.Equal(t, ErrCodeCapabilityUnavailable, s.LastError.Code)
}

func TestTracking_TicksOnLoopAndSaturates(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.search(t, "Puncture Repair")
	ctx := context.Background()

	entry, err := ts.o.BeginTracking(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusTracking, entry.Status)
	assert.Equal(t, "Puncture Repair", entry.Category)
	assert.Equal(t, DialogTracking, ts.o.Dialog())

	ts.sched.Advance(50 * time.Millisecond)
	// nothing changes until the loop applies the tick
	assert.Equal(t, 0.0, ts.snapshot(t).Tracking.Progress)
	ts.o.Drain()
	assert.InDelta(t, 0.3, ts.snapshot(t).Tracking.Progress, 1e-9)

	last := 0.0
	for i := 0; i < 400; i++ {
		ts.sched.Advance(50 * time.Millisecond)
		ts.o.Drain()
		p := ts.snapshot(t).Tracking.Progress
		assert.GreaterOrEqual(t, p, last)
		assert.LessOrEqual(t, p, workflow.MaxProgress)
		last = p
	}
	assert.Equal(t, workflow.MaxProgress, last)
	assert.Equal(t, 0, ts.sched.Pending(), "tick stops at saturation")
}

func TestTracking_EndCancelsTick(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.search(t, "Puncture Repair")

	_, err := ts.o.BeginTracking(context.Background(), "p1")
	require.NoError(t, err)
	ts.sched.Advance(50 * time.Millisecond)

	require.NoError(t, ts.o.EndTracking())
	assert.Equal(t, 0, ts.sched.Pending())
	ts.o.Drain()

	s := ts.snapshot(t)
	assert.Nil(t, s.Tracking)
	assert.Equal(t, DialogNone, s.Dialog)
	// the Tracking entry stays
	require.Len(t, s.History, 1)
	assert.Equal(t, model.StatusTracking, s.History[0].Status)
}

func TestTracking_CallRecordsCompletedNavigateRecordsNothing(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.search(t, "Puncture Repair")
	ctx := context.Background()

	_, err := ts.o.BeginTracking(ctx, "p1")
	require.NoError(t, err)

	url, err := ts.o.NavigateExternally("")
	require.NoError(t, err)
	assert.Contains(t, url, "query=Grand+Road%2C+Puri")

	entry, err := ts.o.CallProvider(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, entry.Status)

	history, err := ts.o.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.StatusCompleted, history[0].Status)
	assert.Equal(t, model.StatusTracking, history[1].Status)
}

func TestCallProvider_FromResults(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ctx := context.Background()

	_, err := ts.o.CallProvider(ctx, "p1")
	assert.ErrorIs(t, err, ErrNoDiscovery)

	ts.search(t, "Puncture Repair")

	_, err = ts.o.CallProvider(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = ts.o.CallProvider(ctx, "p2")
	assert.ErrorIs(t, err, workflow.ErrNoPhone)
	history, err := ts.o.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history, "a provider without a phone line records nothing")

	entry, err := ts.o.CallProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Kalinga Auto Works", entry.ProviderName)
	assert.Equal(t, "Puncture Repair", entry.Category)
	assert.Equal(t, model.StatusCompleted, entry.Status)
}

func TestActions_FollowServiceKind(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ctx := context.Background()

	ts.search(t, "Temple Locations")
	_, err := ts.o.CallProvider(ctx, "t1")
	assert.ErrorIs(t, err, ErrActionUnavailable)
	assert.ErrorIs(t, ts.o.OpenBooking("t1"), ErrActionUnavailable)
	url, err := ts.o.NavigateExternally("t1")
	require.NoError(t, err)
	assert.Contains(t, url, "https://www.google.com/maps/search/")

	ts.search(t, "Puncture Repair")
	assert.ErrorIs(t, ts.o.OpenBooking("p1"), ErrActionUnavailable)
}

func TestBooking_ConfirmWithoutDate(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.search(t, "Priest Booking")
	ctx := context.Background()

	require.NoError(t, ts.o.OpenBooking("pr1"))
	s := ts.snapshot(t)
	assert.Equal(t, DialogBooking, s.Dialog)
	assert.Equal(t, workflow.DefaultOccasion, s.Booking.Occasion)
	assert.Empty(t, s.Booking.Date)

	entry, ok, err := ts.o.ConfirmBooking(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusBooked, entry.Status)
	assert.Equal(t, "Priest Booking - Marriage Ceremony", entry.Category)
	assert.Equal(t, DialogNone, ts.o.Dialog())

	// confirming with nothing open does nothing
	_, ok, err = ts.o.ConfirmBooking(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	history, err := ts.o.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestBooking_OccasionAndDate(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.search(t, "Priest Booking")

	require.NoError(t, ts.o.OpenBooking("pr1"))
	assert.ErrorIs(t, ts.o.SetBookingOccasion("Birthday"), workflow.ErrUnknownOccasion)
	require.NoError(t, ts.o.SetBookingOccasion("griha pravesh"))
	require.NoError(t, ts.o.SetBookingDate("2026-11-02"))

	entry, ok, err := ts.o.ConfirmBooking(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workflow.Category(workflow.OccasionGrihaPravesh), entry.Category)
}

func TestDialogs_MutuallyExclusive(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.search(t, "Priest Booking")
	ctx := context.Background()

	_, err := ts.o.BeginTracking(ctx, "pr1")
	require.NoError(t, err)
	assert.Equal(t, DialogTracking, ts.o.Dialog())

	require.NoError(t, ts.o.OpenBooking("pr1"))
	s := ts.snapshot(t)
	assert.Equal(t, DialogBooking, s.Dialog)
	assert.Nil(t, s.Tracking)
	assert.Equal(t, 0, ts.sched.Pending(), "tracking tick cancelled")

	require.NoError(t, ts.o.OpenDonation())
	s = ts.snapshot(t)
	assert.Equal(t, DialogDonation, s.Dialog)
	assert.Nil(t, s.Booking)

	_, err = ts.o.BeginTracking(ctx, "pr1")
	require.NoError(t, err)
	s = ts.snapshot(t)
	assert.Equal(t, DialogTracking, s.Dialog)
	assert.Nil(t, s.Donation)
	assert.Nil(t, s.Booking)
}

func TestSelectService_ClosesResultDialogsKeepsDonation(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.search(t, "Puncture Repair")

	_, err := ts.o.BeginTracking(context.Background(), "p1")
	require.NoError(t, err)
	ts.search(t, "Plumber")
	assert.Equal(t, DialogNone, ts.o.Dialog())
	assert.Equal(t, 0, ts.sched.Pending())

	require.NoError(t, ts.o.OpenDonation())
	require.NoError(t, ts.o.ReturnToCategories())
	assert.Equal(t, DialogDonation, ts.o.Dialog())
}

func TestDonation_SearchCompletesAfterDelay(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	assert.ErrorIs(t, ts.o.SearchDonation("Blood", "O+"), workflow.ErrNotOpen)
	require.NoError(t, ts.o.OpenDonation())
	assert.ErrorIs(t, ts.o.SearchDonation("Blood", "Z+"), workflow.ErrInvalidDonation)
	require.NoError(t, ts.o.SearchDonation("Blood", "ab-"))
	assert.Equal(t, workflow.PhaseSearching, ts.snapshot(t).Donation.Phase)

	ts.sched.Advance(workflow.DefaultDonationDelay - time.Millisecond)
	ts.o.Drain()
	assert.Equal(t, workflow.PhaseSearching, ts.snapshot(t).Donation.Phase)

	ts.sched.Advance(time.Millisecond)
	ts.o.Drain()
	s := ts.snapshot(t)
	require.NotNil(t, s.Donation.Match)
	assert.Equal(t, workflow.PhaseResult, s.Donation.Phase)
	assert.Equal(t, "City Blood Bank", s.Donation.Match.Facility)
	assert.Equal(t, 3, s.Donation.Match.Units)
	assert.True(t, s.Donation.Match.Verified)
	assert.Equal(t, "AB-", s.Donation.Match.GroupOrType)
	assert.Empty(t, s.History, "donation never writes history")
	assert.Empty(t, ts.queries, "donation never queries the directory")

	// reopening starts over
	require.NoError(t, ts.o.OpenDonation())
	assert.Equal(t, workflow.PhaseForm, ts.snapshot(t).Donation.Phase)
}

func TestDonation_CloseCancelsPendingSearch(t *testing.T) {
	ts := newTestSession(t, WithDonationDelay(time.Second))
	ts.login(t)

	require.NoError(t, ts.o.OpenDonation())
	require.NoError(t, ts.o.SearchDonation("Organ", "Kidney"))
	require.NoError(t, ts.o.CloseDonation())
	assert.Equal(t, 0, ts.sched.Pending())

	ts.sched.Advance(time.Second)
	ts.o.Drain()
	assert.Nil(t, ts.snapshot(t).Donation)
}

func TestHistory_ReviewAndDelete(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.search(t, "Puncture Repair")
	ctx := context.Background()

	tracked, err := ts.o.BeginTracking(ctx, "p1")
	require.NoError(t, err)
	called, err := ts.o.CallProvider(ctx, "")
	require.NoError(t, err)
	require.NoError(t, ts.o.EndTracking())

	ok, err := ts.o.SubmitReview(ctx, tracked.ID, 5, "Great")
	require.NoError(t, err)
	assert.False(t, ok, "only completed entries take reviews")

	ok, err = ts.o.SubmitReview(ctx, called.ID, 5, "Great")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ts.o.SubmitReview(ctx, called.ID, 3, "Changed my mind")
	require.NoError(t, err)
	assert.False(t, ok)

	history, err := ts.o.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NotNil(t, history[0].Rating)
	assert.Equal(t, 5, *history[0].Rating)
	assert.Equal(t, "Great", history[0].ReviewText)

	require.NoError(t, ts.o.DeleteHistory(ctx, "missing"))
	require.NoError(t, ts.o.DeleteHistory(ctx, called.ID))
	history, err = ts.o.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, tracked.ID, history[0].ID)
}

func TestLogout_DiscardsEverything(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ctx := context.Background()

	require.NoError(t, ts.o.StartLocating())
	ts.pos.fix(19.81, 85.83)
	ts.o.Drain()
	ts.search(t, "Puncture Repair")
	_, err := ts.o.BeginTracking(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, ts.o.SelectService("Plumber"))
	_, err = ts.o.BeginTracking(ctx, "missing")
	require.Error(t, err)

	require.NoError(t, ts.o.Logout())
	require.NoError(t, ts.o.Logout())
	assert.Equal(t, 0, ts.pos.activeCount())
	assert.Equal(t, 0, ts.sched.Pending())

	// late callbacks from the old session change nothing
	ts.disp.ReleaseAll()
	ts.pos.fix(1, 1)
	ts.o.Drain()

	s := ts.snapshot(t)
	assert.False(t, s.Authenticated)
	assert.Nil(t, s.Location.Coordinate)
	assert.Equal(t, location.StatusIdle, s.Location.Status)

	ts.login(t)
	s = ts.snapshot(t)
	assert.Nil(t, s.Discovery)
	assert.Empty(t, s.History)
	assert.Nil(t, s.LastError)
	assert.Nil(t, s.Location.Coordinate)
}

func TestLogout_StaleTimerFromPreviousLogin(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.search(t, "Puncture Repair")

	_, err := ts.o.BeginTracking(context.Background(), "p1")
	require.NoError(t, err)
	ts.sched.Advance(50 * time.Millisecond) // tick queued, not applied
	require.NoError(t, ts.o.Logout())
	ts.login(t)

	assert.Equal(t, 1, ts.o.Drain())
	assert.Nil(t, ts.snapshot(t).Tracking)
}

func TestSetAvatar(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)

	require.NoError(t, ts.o.SetAvatar(" file://avatar.png "))
	id, ok := ts.o.Identity()
	require.True(t, ok)
	assert.Equal(t, "file://avatar.png", id.AvatarRef)
	assert.Equal(t, "file://avatar.png", ts.snapshot(t).Identity.AvatarRef)
}

func TestJobs_DemoOfferForPartner(t *testing.T) {
	sched := testutil.NewManualScheduler()
	ts := newTestSession(t, WithJobs(jobs.NewDemoSource(sched, jobs.DefaultDemoDelay)))
	ctx := context.Background()

	require.NoError(t, ts.o.Login(ctx, partner()))
	_, err := ts.o.AcceptJob(ctx)
	assert.ErrorIs(t, err, ErrNoOffer)

	sched.Advance(jobs.DefaultDemoDelay)
	ts.o.Drain()

	s := ts.snapshot(t)
	require.NotNil(t, s.Offer)
	assert.Equal(t, "Amit Patel", s.Offer.Customer)
	assert.Equal(t, "Plumber", s.Offer.Service)
	assert.Equal(t, "2.5 km", s.Offer.Distance)

	entry, err := ts.o.AcceptJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusJobAccepted, entry.Status)
	assert.Equal(t, "Amit Patel", entry.ProviderName)
	assert.Equal(t, "Plumber", entry.Category)
	assert.Nil(t, ts.snapshot(t).Offer)
	assert.ErrorIs(t, ts.o.DeclineJob(), ErrNoOffer)
}

func TestJobs_SeekerNotSubscribed(t *testing.T) {
	sched := testutil.NewManualScheduler()
	ts := newTestSession(t, WithJobs(jobs.NewDemoSource(sched, time.Second)))
	ts.login(t)

	assert.Equal(t, 0, sched.Pending())
}

func TestJobs_OfferAfterLogoutIgnored(t *testing.T) {
	ts := newTestSession(t)
	ctx := context.Background()
	var deliver func(jobs.Offer)
	ts.o.jobs = sourceFunc(func(_ context.Context, _ model.Identity, d func(jobs.Offer)) (jobs.Subscription, error) {
		deliver = d
		return jobs.None{}.Subscribe(ctx, model.Identity{}, nil)
	})

	require.NoError(t, ts.o.Login(ctx, partner()))
	require.NoError(t, ts.o.Logout())
	require.NoError(t, ts.o.Login(ctx, partner()))
	old := deliver
	require.NoError(t, ts.o.Logout())
	require.NoError(t, ts.o.Login(ctx, partner()))

	old(jobs.DemoOffer(partner()))
	ts.o.Drain()
	assert.Nil(t, ts.snapshot(t).Offer)

	deliver(jobs.DemoOffer(partner()))
	ts.o.Drain()
	assert.NotNil(t, ts.snapshot(t).Offer)

	require.NoError(t, ts.o.DeclineJob())
	assert.Nil(t, ts.snapshot(t).Offer)
}

func TestJobs_SubscribeFailureIsAbsorbed(t *testing.T) {
	ts := newTestSession(t)
	ts.o.jobs = sourceFunc(func(context.Context, model.Identity, func(jobs.Offer)) (jobs.Subscription, error) {
		return nil, errors.New("broker down")
	})

	require.NoError(t, ts.o.Login(context.Background(), partner()))
	s := ts.snapshot(t)
	assert.True(t, s.Authenticated)
	require.NotNil(t, s.LastError)
	assert.Equal(t, ErrCodeJobSourceUnavailable, s.LastError.Code)
}

type sourceFunc func(context.Context, model.Identity, func(jobs.Offer)) (jobs.Subscription, error)

func (f sourceFunc) Subscribe(ctx context.Context, partner model.Identity, deliver func(jobs.Offer)) (jobs.Subscription, error) {
	return f(ctx, partner, deliver)
}

func TestMetrics_Recorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	ts := newTestSession(t, WithMetrics(NewMetrics(reg)))
	ts.login(t)

	ts.search(t, "Puncture Repair")
	ts.search(t, "Ambulance")
	require.NoError(t, ts.o.SelectService("Plumber"))
	require.NoError(t, ts.o.ReturnToCategories())
	ts.disp.ReleaseAll()
	ts.o.Drain()
	_, err := ts.o.CallProvider(context.Background(), "p1")
	require.ErrorIs(t, err, ErrNoDiscovery)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "," + l.GetName() + "=" + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}

	assert.Equal(t, 1.0, values["quickassist_active_sessions"])
	assert.Equal(t, 1.0, values["quickassist_discovery_outcomes_total,kind=directory,outcome=succeeded"])
	assert.Equal(t, 1.0, values["quickassist_discovery_outcomes_total,kind=directory,outcome=failed"])
	assert.Equal(t, 1.0, values["quickassist_discovery_outcomes_total,kind=closed,outcome=stale"])
	assert.Equal(t, 1.0, values["quickassist_runtime_errors_total,code=DIRECTORY_QUERY_FAILED"])
	assert.Equal(t, 1.0, values["quickassist_runtime_errors_total,code=STALE_RESPONSE_DISCARDED"])
	assert.Equal(t, 3.0, values["quickassist_directory_query_seconds"])
}

func TestRun_DoSerializesIntents(t *testing.T) {
	o := New(catalog.MustDefault(), directory.Func(func(context.Context, string, model.Coordinate) ([]model.Provider, error) {
		return mechanics(), nil
	}), WithLedgerOptions(ledger.WithIDGenerator(testutil.NewSequentialIDGenerator("h"))))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.NoError(t, o.Do(ctx, func(o *Orchestrator) error {
		return o.Login(ctx, seeker())
	}))
	require.NoError(t, o.Do(ctx, func(o *Orchestrator) error {
		return o.SelectService("Puncture Repair")
	}))

	require.Eventually(t, func() bool {
		var status discovery.Status
		err := o.Do(ctx, func(o *Orchestrator) error {
			s, err := o.Snapshot(ctx)
			if s.Discovery != nil {
				status = s.Discovery.Status
			}
			return err
		})
		return err == nil && status == discovery.StatusSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, o.Do(ctx, func(o *Orchestrator) error { return o.Logout() }))
	o.Stop()
	require.NoError(t, <-done)
	assert.ErrorIs(t, o.Do(ctx, func(*Orchestrator) error { return nil }), ErrStopped)
}

func TestRun_ContextCancelStops(t *testing.T) {
	o := New(catalog.MustDefault(), directory.Func(func(context.Context, string, model.Coordinate) ([]model.Provider, error) {
		return nil, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSettle_WaitsForGoDispatcher(t *testing.T) {
	o := New(catalog.MustDefault(), directory.Func(func(context.Context, string, model.Coordinate) ([]model.Provider, error) {
		time.Sleep(10 * time.Millisecond)
		return mechanics(), nil
	}))
	ctx := context.Background()
	defer o.Close()

	require.NoError(t, o.Login(ctx, seeker()))
	require.NoError(t, o.SelectService("Puncture Repair"))
	require.NoError(t, o.Settle(ctx))

	s, err := o.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, discovery.StatusSucceeded, s.Discovery.Status)
	assert.Len(t, s.Discovery.Results, 2)
}

func TestRuntimeError_IsCode(t *testing.T) {
	err := newRuntimeError(ErrCodeFixTimeout, location.ErrFixTimeout, nil)
	assert.True(t, IsCode(err, ErrCodeFixTimeout))
	assert.False(t, IsCode(err, ErrCodeFixError))
	assert.False(t, IsCode(errors.New("x"), ErrCodeFixTimeout))
	assert.Equal(t, "FIX_TIMEOUT: position fix timed out", err.Error())
}
