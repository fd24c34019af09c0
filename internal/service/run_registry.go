package service

import (
	"context"
	"sync"
)

// RunRegistry tracks in-flight background grading runs keyed by job sequence
// id. It lets HTTP handlers report whether a run is still active and lets
// tests wait for a background run to settle without polling the database.
type RunRegistry struct {
	mu   sync.Mutex
	runs map[uint]chan struct{}
}

// NewRunRegistry constructs an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[uint]chan struct{})}
}

// Start registers a run as active. It panics if the sequence id is already
// registered, since job sequence ids are unique per run.
func (r *RunRegistry) Start(sequenceID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[sequenceID]; ok {
		panic("grading run already registered")
	}
	r.runs[sequenceID] = make(chan struct{})
}

// Finish marks a run as settled and wakes any waiters. Finishing an unknown
// run is a no-op.
func (r *RunRegistry) Finish(sequenceID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done, ok := r.runs[sequenceID]
	if !ok {
		return
	}
	delete(r.runs, sequenceID)
	close(done)
}

// Active reports whether the run is still in flight.
func (r *RunRegistry) Active(sequenceID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[sequenceID]
	return ok
}

// Wait blocks until the run settles or the context is cancelled. Waiting on
// an unregistered run returns immediately.
func (r *RunRegistry) Wait(ctx context.Context, sequenceID uint) error {
	r.mu.Lock()
	done, ok := r.runs[sequenceID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
