// Package progress tracks completion percentages of running jobs.
//
// A Tracker holds one integer in [0,100]. It is written by batch workers and
// read by polling clients at any time; readers always see the latest value.
package progress

import (
	"sync"
	"sync/atomic"
)

// Tracker is safe for concurrent use. The zero value reads 0.
type Tracker struct {
	value atomic.Int64
}

func (t *Tracker) Reset() {
	t.value.Store(0)
}

// Set stores percent unconditionally (last write wins).
func (t *Tracker) Set(percent int) {
	t.value.Store(int64(clamp(percent)))
}

// Advance raises the value to percent and never lowers it. Workers finishing
// out of order call this so the observed signal stays non-decreasing.
func (t *Tracker) Advance(percent int) {
	p := int64(clamp(percent))
	for {
		cur := t.value.Load()
		if p <= cur {
			return
		}
		if t.value.CompareAndSwap(cur, p) {
			return
		}
	}
}

func (t *Tracker) Get() int {
	return int(t.value.Load())
}

// Percent returns floor(done*100/total). A non-positive total yields 0.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return clamp(done * 100 / total)
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Registry maps job IDs to their trackers and remembers the most recently
// started job, which backs the unkeyed progress endpoint.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
	latest   *Tracker
}

func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Start registers a fresh tracker at 0 for id and makes it the latest.
func (r *Registry) Start(id string) *Tracker {
	t := &Tracker{}
	r.mu.Lock()
	r.trackers[id] = t
	r.latest = t
	r.mu.Unlock()
	return t
}

func (r *Registry) Get(id string) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[id]
	return t, ok
}

// Latest returns the progress of the most recently started job, or 0.
// Callers should Start a job only when it begins running.
func (r *Registry) Latest() int {
	r.mu.RLock()
	t := r.latest
	r.mu.RUnlock()
	if t == nil {
		return 0
	}
	return t.Get()
}

// Forget drops the tracker for id. The latest value stays readable.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	delete(r.trackers, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackers)
}
