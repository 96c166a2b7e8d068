package pipeline

import (
	"context"
	"sync"
)

// orderGate makes one language publish in job order while translation and
// synthesis of later jobs run ahead. Job numbers start at 1 and have no gaps.
//
// Every job must call done exactly once, also when it gives up, or later
// jobs wait forever.
type orderGate struct {
	mu       sync.Mutex
	next     uint64
	finished map[uint64]bool
	waiters  map[uint64]chan struct{}
}

func newOrderGate() *orderGate {
	return &orderGate{
		next:     1,
		finished: make(map[uint64]bool),
		waiters:  make(map[uint64]chan struct{}),
	}
}

// wait blocks until it is job's turn or ctx is done.
func (g *orderGate) wait(ctx context.Context, job uint64) error {
	g.mu.Lock()
	if g.next >= job {
		g.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	g.waiters[job] = ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.waiters, job)
		g.mu.Unlock()
		return ctx.Err()
	}
}

// done marks job finished and lets the next waiting job through.
func (g *orderGate) done(job uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finished[job] = true
	for g.finished[g.next] {
		delete(g.finished, g.next)
		g.next++
	}
	if ch, ok := g.waiters[g.next]; ok {
		close(ch)
		delete(g.waiters, g.next)
	}
}

// gates holds one orderGate per language.
type gates struct {
	mu sync.Mutex
	m  map[string]*orderGate
}

func (gs *gates) get(lang string) *orderGate {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.m == nil {
		gs.m = make(map[string]*orderGate)
	}
	g, ok := gs.m[lang]
	if !ok {
		g = newOrderGate()
		gs.m[lang] = g
	}
	return g
}
