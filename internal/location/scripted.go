package location

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/sched"
)

// RouteStep is one scripted positioning event.
type RouteStep struct {
	// After is the delay from the previous step.
	After time.Duration `yaml:"after"`
	Lat   float64       `yaml:"lat,omitempty"`
	Lng   float64       `yaml:"lng,omitempty"`
	// Error is "timeout" or any other text for a generic failure. When set,
	// Lat and Lng are ignored.
	Error string `yaml:"error,omitempty"`
}

// Route is a scripted sequence of fixes and failures.
type Route struct {
	Steps []RouteStep `yaml:"steps"`
}

// LoadRoute reads a YAML route file. Unknown fields are rejected.
func LoadRoute(path string) (*Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file: %w", err)
	}
	var r Route
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to parse route YAML: %w", err)
	}
	return &r, nil
}

// Scripted replays a Route on a Scheduler each time a watch starts.
// It stands in for device positioning in the CLI and in tests.
type Scripted struct {
	route Route
	sched sched.Scheduler
	now   func() time.Time

	mu      sync.Mutex
	next    WatchID
	pending map[WatchID][]sched.Timer
}

// NewScripted creates a scripted positioner. A nil now defaults to time.Now.
func NewScripted(route Route, s sched.Scheduler, now func() time.Time) *Scripted {
	if now == nil {
		now = time.Now
	}
	return &Scripted{route: route, sched: s, now: now, pending: make(map[WatchID][]sched.Timer)}
}

// Watch schedules every step of the route.
func (p *Scripted) Watch(opts WatchOptions, onFix func(model.Fix), onError func(error)) (WatchID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	id := p.next
	var at time.Duration
	timers := make([]sched.Timer, 0, len(p.route.Steps))
	for _, step := range p.route.Steps {
		at += step.After
		step := step
		// A step slower than the watch timeout times out when the timeout
		// elapses, not when the step would have landed.
		fireAt := at
		late := opts.Timeout > 0 && step.After > opts.Timeout
		if late {
			fireAt = at - step.After + opts.Timeout
		}
		timers = append(timers, p.sched.AfterFunc(fireAt, func() {
			switch {
			case late || step.Error == "timeout":
				onError(ErrFixTimeout)
			case step.Error != "":
				onError(fmt.Errorf("%w: %s", ErrFixFailed, step.Error))
			default:
				onFix(model.Fix{Coordinate: model.Coordinate{Lat: step.Lat, Lng: step.Lng}, At: p.now()})
			}
		}))
	}
	p.pending[id] = timers
	return id, nil
}

// ClearWatch stops every step not yet delivered.
func (p *Scripted) ClearWatch(id WatchID) {
	p.mu.Lock()
	timers := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

// ActiveWatches returns the number of watches not yet cleared.
func (p *Scripted) ActiveWatches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
