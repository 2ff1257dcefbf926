// Package discovery owns the lifecycle of a single "find provider X"
// request: pending, then succeeded or failed.
//
// A Session is one slot. Opening it again replaces the previous request,
// and every request carries a generation from the logical clock so that a
// late response for a replaced or closed request mutates nothing.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/quickassist/internal/catalog"
	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/sched"
)

var (
	// ErrQueryFailed marks a failed directory query.
	ErrQueryFailed = errors.New("directory query failed")

	// ErrEmptyService is returned by Open for a blank service name.
	ErrEmptyService = errors.New("service name is empty")
)

// Status of the current request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StatusText is the message shown above the result list.
func (s Status) StatusText() string {
	switch s {
	case StatusPending:
		return "Searching nearby..."
	case StatusFailed:
		return "Failed to fetch data."
	}
	return ""
}

// CoordinateSource supplies the search origin. location.Tracker
// implements it.
type CoordinateSource interface {
	SeedFallback() model.Coordinate
}

// Request is a directory query the caller must execute and answer with
// Resolve.
type Request struct {
	Gen         int64
	ServiceName string
	Kind        catalog.Kind
	Origin      model.Coordinate
}

// Outcome reports what Resolve did with a response.
type Outcome int

const (
	OutcomeApplied Outcome = iota + 1
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	}
	return "unknown"
}

// View is a read-only copy of the session.
type View struct {
	Query      string           `json:"query"`
	Kind       catalog.Kind     `json:"kind"`
	Actions    catalog.Actions  `json:"actions"`
	Status     Status           `json:"status"`
	StatusText string           `json:"statusText,omitempty"`
	Results    []model.Provider `json:"results"`
	Origin     model.Coordinate `json:"origin"`
	Error      string           `json:"error,omitempty"`
}

// Session is not safe for concurrent use; it is driven from the session loop.
type Session struct {
	catalog *catalog.Catalog
	coords  CoordinateSource
	clock   *sched.Clock

	open    bool
	gen     int64
	query   string
	kind    catalog.Kind
	status  Status
	results []model.Provider
	origin  model.Coordinate
	err     error
}

// New creates a closed session.
func New(cat *catalog.Catalog, coords CoordinateSource, clock *sched.Clock) *Session {
	return &Session{catalog: cat, coords: coords, clock: clock}
}

// Open starts a search for serviceName, replacing any earlier one.
//
// The origin is taken once, here, and never changes afterwards. Landmark
// services are answered from the catalog before Open returns, and the
// returned Request is nil. For every other kind the caller must run the
// returned Request against a directory.
func (s *Session) Open(serviceName string) (*Request, error) {
	name := strings.TrimSpace(serviceName)
	if name == "" {
		return nil, ErrEmptyService
	}

	s.open = true
	s.gen = s.clock.Next()
	s.query = name
	s.kind = s.catalog.Resolve(name)
	s.status = StatusPending
	s.results = []model.Provider{}
	s.err = nil
	s.origin = s.coords.SeedFallback()

	slog.Debug("discovery opened",
		"service", name,
		"kind", s.kind,
		"generation", s.gen,
		"lat", s.origin.Lat,
		"lng", s.origin.Lng,
	)

	if s.kind == catalog.KindLandmark {
		s.status = StatusSucceeded
		s.results = s.catalog.Landmarks()
		return nil, nil
	}
	return &Request{Gen: s.gen, ServiceName: name, Kind: s.kind, Origin: s.origin}, nil
}

// Resolve applies a directory response. A response whose generation does
// not match the open request, or that arrives after Close, is stale and
// changes nothing. Each generation resolves at most once.
func (s *Session) Resolve(gen int64, providers []model.Provider, err error) Outcome {
	if !s.open || gen != s.gen || s.status != StatusPending {
		return OutcomeStale
	}

	if err == nil {
		err = model.ValidateProviders(providers)
	}
	if err != nil {
		s.status = StatusFailed
		s.results = []model.Provider{}
		s.err = fmt.Errorf("%w: %w", ErrQueryFailed, err)
		return OutcomeApplied
	}

	s.status = StatusSucceeded
	s.results = model.CloneProviders(providers)
	if s.results == nil {
		s.results = []model.Provider{}
	}
	return OutcomeApplied
}

// Close discards the session. Later responses are stale.
func (s *Session) Close() {
	s.open = false
	s.query = ""
	s.kind = ""
	s.status = ""
	s.results = nil
	s.origin = model.Coordinate{}
	s.err = nil
}

// Active reports whether a session is open.
func (s *Session) Active() bool { return s.open }

// Gen returns the generation of the open request.
func (s *Session) Gen() int64 { return s.gen }

// Status returns the status of the open request.
func (s *Session) Status() Status { return s.status }

// Kind returns the resolved service kind.
func (s *Session) Kind() catalog.Kind { return s.kind }

// Query returns the service name being searched.
func (s *Session) Query() string { return s.query }

// Origin returns the coordinate the search was made from.
func (s *Session) Origin() model.Coordinate { return s.origin }

// Err returns the failure of the last request, if any.
func (s *Session) Err() error { return s.err }

// Results returns a copy of the results in directory order.
func (s *Session) Results() []model.Provider {
	return model.CloneProviders(s.results)
}

// Provider finds a result by id.
func (s *Session) Provider(id string) (model.Provider, bool) {
	for _, p := range s.results {
		if p.ID == id {
			return p, true
		}
	}
	return model.Provider{}, false
}

// View returns a copy for presentation, or nil when closed.
func (s *Session) View() *View {
	if !s.open {
		return nil
	}
	v := &View{
		Query:      s.query,
		Kind:       s.kind,
		Actions:    s.kind.Actions(),
		Status:     s.status,
		StatusText: s.status.StatusText(),
		Results:    s.Results(),
		Origin:     s.origin,
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	return v
}
