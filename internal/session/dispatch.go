package session

import (
	"context"
	"sync"

	"github.com/roach88/quickassist/internal/catalog"
	"github.com/roach88/quickassist/internal/discovery"
)

// Dispatcher runs directory requests off the session loop. run performs
// the query and posts the response back to the loop.
type Dispatcher interface {
	Dispatch(req discovery.Request, run func())
}

// GoDispatcher runs each request on its own goroutine.
type GoDispatcher struct {
	wg sync.WaitGroup
}

// Dispatch implements Dispatcher.
func (d *GoDispatcher) Dispatch(_ discovery.Request, run func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		run()
	}()
}

// Wait blocks until every dispatched request has posted its response.
func (d *GoDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ManualDispatcher holds requests until Release runs them on the caller's
// goroutine. Tests and scenarios use it to decide exactly when, and in
// which order, responses arrive.
//
// Thread-safety: safe for concurrent use.
type ManualDispatcher struct {
	mu      sync.Mutex
	pending []pendingRequest
}

type pendingRequest struct {
	req discovery.Request
	run func()
}

// Dispatch implements Dispatcher.
func (d *ManualDispatcher) Dispatch(req discovery.Request, run func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, pendingRequest{req: req, run: run})
}

// Release runs the oldest held request for serviceName. It reports false
// if none is held.
func (d *ManualDispatcher) Release(serviceName string) bool {
	key := catalog.Normalize(serviceName)

	d.mu.Lock()
	idx := -1
	for i, p := range d.pending {
		if catalog.Normalize(p.req.ServiceName) == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return false
	}
	p := d.pending[idx]
	d.pending = append(d.pending[:idx:idx], d.pending[idx+1:]...)
	d.mu.Unlock()

	p.run()
	return true
}

// ReleaseAll runs every held request in dispatch order.
func (d *ManualDispatcher) ReleaseAll() int {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, p := range pending {
		p.run()
	}
	return len(pending)
}

// Pending returns the held requests in dispatch order.
func (d *ManualDispatcher) Pending() []discovery.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]discovery.Request, len(d.pending))
	for i, p := range d.pending {
		out[i] = p.req
	}
	return out
}
