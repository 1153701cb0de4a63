package orchestrator

import (
	"context"
	"time"

	"harvester/internal/harvest"
	"harvester/internal/lister"
	"harvester/internal/progress"
	"harvester/internal/runguard"
)

// Repository provides sources and records successful harvests.
type Repository interface {
	List(ctx context.Context) []harvest.Source
	ListEnabled(ctx context.Context, kind harvest.Kind) ([]harvest.Source, error)
	Get(ctx context.Context, id string) (harvest.Source, error)
	Advance(ctx context.Context, id string, lastHarvested time.Time, seqno *int) error
}

// Schedule decides whether a source is due.
type Schedule interface {
	IsDue(expr string, lastHarvested *time.Time, now time.Time) (bool, error)
}

// Sender transfers the files of one run.
type Sender interface {
	Send(ctx context.Context, files []*harvest.File, prefix, template string, p *progress.Progress) error
}

// Metrics receives run outcomes.
type Metrics interface {
	HarvestSucceeded(source string)
	HarvestFailed(source, reason string)
	ObserveDuration(source string, d, threshold time.Duration)
}

type Options struct {
	Sources       Repository
	Listers       lister.Set
	Schedule      Schedule
	Runs          *runguard.Coordinator
	Progress      *progress.Tracker
	Sender        Sender
	Metrics       Metrics
	TickInterval  time.Duration
	MaxConcurrent int
	Now           func() time.Time
}

// FilePreview describes one remote entry of a source.
type FilePreview struct {
	Name           string         `json:"name"`
	Status         harvest.Status `json:"status"`
	Size           *int64         `json:"size,omitempty"`
	Seqno          *int           `json:"seqno,omitempty"`
	UploadFilename string         `json:"upload_filename"`
}

const (
	defaultTickInterval  = 20 * time.Second
	defaultMaxConcurrent = 4
	maxConcurrentLimit   = 16
)

type noopMetrics struct{}

func (noopMetrics) HarvestSucceeded(string) {}
func (noopMetrics) HarvestFailed(string, string) {}
func (noopMetrics) ObserveDuration(string, time.Duration, time.Duration) {}
