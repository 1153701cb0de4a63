package progress

import (
	"sync"
	"time"
)

// Tracker holds the latest progress of every source that has run since
// the process started.
type Tracker struct {
	mu   sync.RWMutex
	runs map[string]*Progress
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{runs: make(map[string]*Progress), now: time.Now}
}

// UseClock replaces the time source for progress created afterwards.
func (t *Tracker) UseClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Begin starts a fresh progress for id, replacing the previous one.
func (t *Tracker) Begin(id string) *Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := newProgress(t.now)
	t.runs[id] = p
	return p
}

func (t *Tracker) Get(id string) (*Progress, bool) {
	t.mu.RLock()
	p, ok := t.runs[id]
	t.mu.RUnlock()
	return p, ok
}

// All returns a snapshot per source id.
func (t *Tracker) All() map[string]Snapshot {
	t.mu.RLock()
	runs := make(map[string]*Progress, len(t.runs))
	for id, p := range t.runs {
		runs[id] = p
	}
	t.mu.RUnlock()

	out := make(map[string]Snapshot, len(runs))
	for id, p := range runs {
		out[id] = p.Snapshot()
	}
	return out
}
