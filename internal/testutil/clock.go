package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/quickassist/internal/sched"
)

// ManualScheduler is a sched.Scheduler driven by explicit Advance calls.
//
// Time never moves on its own, so tests that exercise tick and delay
// behavior are deterministic and never sleep. Timers due at the same instant
// fire in the order they were scheduled.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
// Callbacks run on the goroutine calling Advance, with the mutex released.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	nextID int64
	timers map[int64]*manualTimer
}

type manualTimer struct {
	s       *ManualScheduler
	id      int64
	due     time.Duration
	period  time.Duration
	fn      func()
	stopped bool
}

// NewManualScheduler creates a scheduler at virtual time 0.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{timers: make(map[int64]*manualTimer)}
}

// AfterFunc schedules fn once, d after the current virtual time.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) sched.Timer {
	return s.add(d, 0, fn)
}

// Every schedules fn at each multiple of period from the current virtual time.
func (s *ManualScheduler) Every(period time.Duration, fn func()) sched.Timer {
	if period <= 0 {
		panic("ManualScheduler: non-positive period")
	}
	return s.add(period, period, fn)
}

func (s *ManualScheduler) add(d, period time.Duration, fn func()) *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &manualTimer{s: s, id: s.nextID, due: s.now + d, period: period, fn: fn}
	s.timers[t.id] = t
	return t
}

// Advance moves virtual time forward by d, firing every timer that comes due.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		t := s.earliestLocked(target)
		if t == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = t.due
		if t.period > 0 {
			t.due += t.period
		} else {
			delete(s.timers, t.id)
		}
		fn := t.fn
		s.mu.Unlock()

		fn()
	}
}

func (s *ManualScheduler) earliestLocked(target time.Duration) *manualTimer {
	due := make([]*manualTimer, 0, len(s.timers))
	for _, t := range s.timers {
		if !t.stopped && t.due <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].id < due[j].id
	})
	return due[0]
}

// Now returns the current virtual time.
func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of timers that can still fire.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped {
		return false
	}
	_, live := t.s.timers[t.id]
	t.stopped = true
	delete(t.s.timers, t.id)
	return live
}
