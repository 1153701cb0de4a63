package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"harvester/internal/harvest"
	"harvester/internal/metrics"
	"harvester/internal/progress"
)

type outcome int

const (
	outcomeHarvested outcome = iota
	outcomeNoFiles
	outcomeFailed
)

// harvest runs one source. The caller holds the run guard.
func (m *Manager) harvest(src harvest.Source) {
	base := m.base()
	select {
	case m.semaphore <- struct{}{}:
	case <-base.Done():
		return
	}
	defer func() { <-m.semaphore }()

	ctx, cancel := context.WithCancel(base)
	defer cancel()
	logger := log.With().Str("source_id", src.ID).Str("source", src.Label()).Logger()
	ctx = logger.WithContext(ctx)

	p := m.progress.Begin(src.ID)
	p.BindCancel(cancel)
	logger.Info().Msg("harvest started")

	result, reason, err := m.runHarvest(ctx, src, p)
	switch result {
	case outcomeNoFiles:
		p.Finish()
		logger.Info().Msg("no files to harvest")
	case outcomeFailed:
		if p.Aborted() {
			reason = metrics.ReasonAborted
		} else {
			p.SetMessage(progress.MessageFailed)
			p.Finish()
		}
		m.metrics.HarvestFailed(src.ID, reason)
		logger.Error().Str("reason", reason).Err(err).Msg("harvest failed")
	default:
		age := p.Done()
		m.metrics.HarvestSucceeded(src.ID)
		m.metrics.ObserveDuration(src.ID, age, progress.SlowThreshold)
		if age > progress.SlowThreshold {
			logger.Warn().Dur("took", age).Msg("slow harvest")
		}
		logger.Info().Dur("took", age).Msg("harvest finished")
	}
}

// runHarvest lists, transfers and advances state. Panics become failures.
func (m *Manager) runHarvest(ctx context.Context, src harvest.Source, p *progress.Progress) (result outcome, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, reason, err = outcomeFailed, metrics.ReasonPanic, fmt.Errorf("panic: %v", r)
		}
	}()

	l, err := m.listers.For(src.Kind)
	if err != nil {
		return outcomeFailed, metrics.ReasonListing, err
	}
	files, err := l.List(ctx, src)
	if err != nil {
		return outcomeFailed, metrics.ReasonListing, fmt.Errorf("list: %w", err)
	}
	defer func() {
		if cerr := harvest.CloseAll(files); cerr != nil {
			log.Ctx(ctx).Warn().Err(cerr).Msg("close files failed")
		}
	}()

	if len(files) == 0 {
		p.SetMessage(progress.MessageNoFiles)
		return outcomeNoFiles, "", nil
	}
	log.Ctx(ctx).Info().Int("files", len(files)).Msg("files found")

	if err := m.sender.Send(ctx, files, src.Agency, src.Transfile, p); err != nil {
		return outcomeFailed, metrics.ReasonTransfer, fmt.Errorf("transfer: %w", err)
	}
	if err := m.sources.Advance(ctx, src.ID, m.now(), harvest.MaxSeqno(files, src.Seqno)); err != nil {
		return outcomeFailed, metrics.ReasonState, fmt.Errorf("advance state: %w", err)
	}
	return outcomeHarvested, "", nil
}
