// Package coordinator implements the distributed execution engine for heatgrid.
// This file implements health tracking for the workers taking part in a run.
package coordinator

import (
	"cmp"
	"log"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

const (
	healthStatusHealthy = "healthy"
	healthStatusFailed  = "failed"
)

// WorkerHealth tracks the exchange history of a single worker.
// Thread-safe: Protected by HealthTracker's mutex when accessed.
type WorkerHealth struct {
	LastExchange time.Time // Timestamp of the last exchange attempt
	LastHealthy  time.Time // Timestamp of the last successful exchange
	Addr         string    // Remote address of the worker connection
	Status       string    // Current status: "healthy" or "failed"
	LastError    string    // Error of the failing exchange, if any
	ID           int       // Arrival order, which also selects the band
	Exchanges    int       // Successful exchanges so far
}

// HealthTracker records per-worker exchange outcomes during a run.
// Exchange goroutines of the same iteration report concurrently, so all
// methods are safe for concurrent use.
//
// A worker is marked failed on its first failed exchange: a transport
// error leaves the stream at an unknown frame boundary, so the connection
// cannot be reused.
type HealthTracker struct {
	workers  map[int]*WorkerHealth // Current health per worker ID
	onFailed func(h WorkerHealth)  // Callback when a worker fails
	mu       sync.RWMutex          // Protects workers
}

// NewHealthTracker creates an empty tracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		workers: make(map[int]*WorkerHealth),
	}
}

// SetOnFailed sets the callback invoked once when a worker transitions to
// failed. The callback runs without the tracker lock held.
//
// Example:
//
//	tracker.SetOnFailed(func(h WorkerHealth) {
//	    log.Printf("worker %d lost: %s", h.ID, h.LastError)
//	})
func (h *HealthTracker) SetOnFailed(callback func(h WorkerHealth)) {
	h.onFailed = callback
}

// Track starts tracking a newly connected worker as healthy.
func (h *HealthTracker) Track(id int, addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.workers[id] = &WorkerHealth{
		ID:          id,
		Addr:        addr,
		Status:      healthStatusHealthy,
		LastHealthy: now,
	}
}

// RecordSuccess notes a completed exchange.
func (h *HealthTracker) RecordSuccess(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.workers[id]
	if !ok {
		return
	}
	now := time.Now()
	w.LastExchange = now
	w.LastHealthy = now
	w.Exchanges++
}

// RecordFailure marks a worker failed and reports whether this call made
// the transition. The OnFailed callback fires only on the transition.
func (h *HealthTracker) RecordFailure(id int, err error) bool {
	h.mu.Lock()
	w, ok := h.workers[id]
	if !ok || w.Status == healthStatusFailed {
		h.mu.Unlock()
		return false
	}
	w.LastExchange = time.Now()
	w.Status = healthStatusFailed
	if err != nil {
		w.LastError = err.Error()
	}
	snapshot := *w
	h.mu.Unlock()

	if h.onFailed != nil {
		h.onFailed(snapshot)
	} else {
		log.Printf("coordinator: worker %d (%s) failed: %s", snapshot.ID, snapshot.Addr, snapshot.LastError)
	}
	return true
}

// Get returns a copy of a worker's health, or nil if it is not tracked.
func (h *HealthTracker) Get(id int) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	w, ok := h.workers[id]
	if !ok {
		return nil
	}
	c := *w
	return &c
}

// All returns copies of every tracked worker's health ordered by ID.
func (h *HealthTracker) All() []WorkerHealth {
	h.mu.RLock()
	out := make([]WorkerHealth, 0, len(h.workers))
	for _, w := range h.workers {
		out = append(out, *w)
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b WorkerHealth) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Healthy returns the number of workers that have not failed.
func (h *HealthTracker) Healthy() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, w := range h.workers {
		if w.Status == healthStatusHealthy {
			n++
		}
	}
	return n
}
