package trace

import (
	"sync"
)

// Event is one recorded step.
type Event struct {
	Seq    int    `json:"seq"`
	Step   string `json:"step"`
	Detail any    `json:"detail,omitempty"`
}

// Recorder collects events in order.
//
// Thread-safety: safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends an event.
func (r *Recorder) Record(step string, detail any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Seq: len(r.events) + 1, Step: step, Detail: detail})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Marshal returns the events as indented canonical JSON.
func (r *Recorder) Marshal() ([]byte, error) {
	events := r.Events()
	return MarshalCanonicalIndent(map[string]any{"events": events})
}
