package session

import (
	"sync"

	"github.com/roach88/quickassist/internal/jobs"
	"github.com/roach88/quickassist/internal/model"
)

// eventKind distinguishes between event kinds.
type eventKind int

const (
	eventFix eventKind = iota + 1
	eventFixError
	eventDirectory
	eventTimer
	eventOffer
	eventCommand
)

func (k eventKind) String() string {
	switch k {
	case eventFix:
		return "fix"
	case eventFixError:
		return "fix_error"
	case eventDirectory:
		return "directory"
	case eventTimer:
		return "timer"
	case eventOffer:
		return "offer"
	case eventCommand:
		return "command"
	}
	return "unknown"
}

// event is one unit of work for the loop. Which fields are set depends on
// kind; gen is the generation tag of the issuer.
type event struct {
	kind      eventKind
	gen       int64
	fix       model.Fix
	err       error
	providers []model.Provider
	offer     jobs.Offer
	fire      func()
	cmd       *command
}

type command struct {
	fn    func(*Orchestrator) error
	reply chan error
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so callbacks never block the goroutine that
// produced them (a positioner, a timer, a directory request).
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// non-blocking; the buffer of 1 coalesces signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]
	// release references held by the backing array
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting events and wakes any waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
