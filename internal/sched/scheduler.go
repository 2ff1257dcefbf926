// Package sched provides the timing primitives the session runs on: a
// logical clock for generation tags and a Scheduler for delayed and
// repeating work.
//
// Scheduler callbacks run on whatever goroutine the implementation chooses.
// Components never mutate state from a callback directly; the session wraps
// each callback so it is re-posted onto the single-writer loop.
package sched

import (
	"sync"
	"time"
)

// Timer is a handle to scheduled work.
type Timer interface {
	// Stop prevents any further firing. It reports whether the timer was
	// still active. Calling Stop more than once is safe.
	Stop() bool
}

// Scheduler runs functions after a delay or on a fixed period.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Every(period time.Duration, fn func()) Timer
}

// Real is the wall-clock Scheduler.
type Real struct{}

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(d, fn)}
}

// Every starts a goroutine that calls fn once per period until stopped.
func (Real) Every(period time.Duration, fn func()) Timer {
	t := &ticker{done: make(chan struct{})}
	tk := time.NewTicker(period)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-tk.C:
				fn()
			}
		}
	}()
	return t
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool {
	return r.t.Stop()
}

type ticker struct {
	once sync.Once
	done chan struct{}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.done)
		stopped = true
	})
	return stopped
}
