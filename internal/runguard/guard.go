// Package runguard admits at most one concurrent run per source within the
// process.
package runguard

import (
	"sort"
	"sync"
	"time"
)

// Run is one registered run.
type Run struct {
	SourceID  string    `json:"source_id"`
	StartedAt time.Time `json:"started_at"`
}

// Coordinator maps source ids to the start of their active run. The lock
// is held only for single map operations, never for the run itself.
type Coordinator struct {
	mu     sync.Mutex
	active map[string]time.Time
	now    func() time.Time
}

func New() *Coordinator {
	return &Coordinator{active: make(map[string]time.Time), now: time.Now}
}

// UseClock replaces the time source. Intended for tests.
func (c *Coordinator) UseClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// TryStart registers a run for id and reports whether it did. It has no
// effect when a run for id is already registered.
func (c *Coordinator) TryStart(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, running := c.active[id]; running {
		return false
	}
	c.active[id] = c.now()
	return true
}

// Finish removes the run for id, if any.
func (c *Coordinator) Finish(id string) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

func (c *Coordinator) IsRunning(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}

func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// LongestRunning is the age of the oldest active run, or 0.
func (c *Coordinator) LongestRunning() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.active) == 0 {
		return 0
	}
	var oldest time.Time
	for _, started := range c.active {
		if oldest.IsZero() || started.Before(oldest) {
			oldest = started
		}
	}
	return c.now().Sub(oldest)
}

// Active returns the registered runs, oldest first.
func (c *Coordinator) Active() []Run {
	c.mu.Lock()
	runs := make([]Run, 0, len(c.active))
	for id, started := range c.active {
		runs = append(runs, Run{SourceID: id, StartedAt: started})
	}
	c.mu.Unlock()
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].SourceID < runs[j].SourceID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs
}
