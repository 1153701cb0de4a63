// Package orchestrator drives harvests: on every tick it starts a run for
// each enabled source that is due and not already running.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"harvester/internal/harvest"
	"harvester/internal/lister"
	"harvester/internal/metrics"
	"harvester/internal/progress"
	"harvester/internal/runguard"
)

// Manager schedules and runs harvests in background workers.
type Manager struct {
	mu        sync.RWMutex
	sources   Repository
	listers   lister.Set
	schedule  Schedule
	runs      *runguard.Coordinator
	progress  *progress.Tracker
	sender    Sender
	metrics   Metrics
	interval  time.Duration
	now       func() time.Time
	semaphore chan struct{}
	workersWG sync.WaitGroup
	baseCtx   context.Context
}

func New(opts Options) *Manager {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	switch {
	case opts.MaxConcurrent <= 0:
		opts.MaxConcurrent = defaultMaxConcurrent
	case opts.MaxConcurrent > maxConcurrentLimit:
		opts.MaxConcurrent = maxConcurrentLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Runs == nil {
		opts.Runs = runguard.New()
	}
	if opts.Progress == nil {
		opts.Progress = progress.NewTracker()
	}
	return &Manager{
		sources:   opts.Sources,
		listers:   opts.Listers,
		schedule:  opts.Schedule,
		runs:      opts.Runs,
		progress:  opts.Progress,
		sender:    opts.Sender,
		metrics:   opts.Metrics,
		interval:  opts.TickInterval,
		now:       opts.Now,
		semaphore: make(chan struct{}, opts.MaxConcurrent),
		baseCtx:   context.Background(),
	}
}

// Run ticks until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", m.interval).Msg("harvest scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("harvest scheduler stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick evaluates every enabled source once and returns how many runs it
// started. Runs continue in the background.
func (m *Manager) Tick(ctx context.Context) int {
	started := 0
	now := m.now()
	for _, kind := range harvest.Kinds() {
		sources, err := m.sources.ListEnabled(ctx, kind)
		if err != nil {
			log.Error().Str("kind", string(kind)).Err(err).Msg("list sources failed")
			continue
		}
		for _, src := range sources {
			if m.evaluate(src, now) {
				started++
			}
		}
	}
	return started
}

func (m *Manager) evaluate(src harvest.Source, now time.Time) bool {
	due, err := m.schedule.IsDue(src.Schedule, src.LastHarvested, now)
	if err != nil {
		log.Error().Str("source_id", src.ID).Str("schedule", src.Schedule).Err(err).Msg("cannot evaluate schedule")
		m.metrics.HarvestFailed(src.ID, metrics.ReasonSchedule)
		return false
	}
	if !due {
		return false
	}
	return m.start(src)
}

// RunNow starts a run for id regardless of its schedule.
func (m *Manager) RunNow(ctx context.Context, id string) error {
	src, err := m.sources.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if !m.start(src) {
		return ErrAlreadyRunning
	}
	return nil
}

// Abort cancels the active run of id.
func (m *Manager) Abort(id string) error {
	p, ok := m.progress.Get(id)
	if !ok || !m.runs.IsRunning(id) || !p.Abort() {
		return ErrNotRunning
	}
	log.Info().Str("source_id", id).Msg("harvest aborted")
	return nil
}

// start takes the run guard synchronously so a later tick sees the source
// as running, then harvests in the background.
func (m *Manager) start(src harvest.Source) bool {
	if !m.runs.TryStart(src.ID) {
		log.Debug().Str("source_id", src.ID).Msg("harvest already running, skipping")
		return false
	}
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer m.runs.Finish(src.ID)
		m.harvest(src)
	}()
	return true
}

// Preview lists every remote entry of id with its status.
func (m *Manager) Preview(ctx context.Context, id string) ([]FilePreview, error) {
	src, err := m.sources.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	l, err := m.listers.For(src.Kind)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	files, err := l.ListAll(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", id, err)
	}
	defer func() { _ = harvest.CloseAll(files) }()

	out := make([]FilePreview, 0, len(files))
	for _, f := range files {
		out = append(out, FilePreview{
			Name:           f.Name(),
			Status:         f.Status(),
			Size:           f.Size(),
			Seqno:          f.Seqno(),
			UploadFilename: f.UploadFilename(src.Agency),
		})
	}
	return out, nil
}

// Sources returns the configured sources.
func (m *Manager) Sources(ctx context.Context) []harvest.Source { return m.sources.List(ctx) }

// Source returns one configured source.
func (m *Manager) Source(ctx context.Context, id string) (harvest.Source, error) {
	src, err := m.sources.Get(ctx, id)
	if err != nil {
		return harvest.Source{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return src, nil
}

func (m *Manager) Progress() *progress.Tracker  { return m.progress }
func (m *Manager) Runs() *runguard.Coordinator { return m.runs }

// IsBusy reports whether every harvest slot is taken.
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// SetBaseContext sets the parent context of every run. Cancelling it stops
// in-flight harvests on shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight runs finish or the context is done.
// Returns true if all runs finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) base() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.baseCtx == nil {
		return context.Background()
	}
	return m.baseCtx
}
