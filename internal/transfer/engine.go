// Package transfer uploads harvested files to a content store and
// registers one downstream job per file.
package transfer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"harvester/internal/bytecount"
	"harvester/internal/harvest"
	"harvester/internal/jobs"
	"harvester/internal/progress"
	"harvester/internal/retry"
)

const (
	DefaultApplicationID = "harvester"
	defaultMaxRetries    = 5
	defaultRetryDelay    = time.Minute
)

// ContentStore keeps uploaded content. Bytes appended before a failed
// AppendStream must remain stored.
type ContentStore interface {
	AddFile(ctx context.Context, r io.Reader) (string, error)
	ByteSize(ctx context.Context, id string) (int64, error)
	AppendStream(ctx context.Context, id string, r io.Reader) error
}

// JobRegistry accepts job specifications.
type JobRegistry interface {
	Submit(ctx context.Context, spec jobs.Spec) (string, error)
}

type Options struct {
	Retry         retry.Policy
	ApplicationID string
}

// Engine sends files to the store and the registry.
type Engine struct {
	store    ContentStore
	registry JobRegistry
	retry    retry.Policy
	appID    string
}

func NewEngine(store ContentStore, registry JobRegistry, opts Options) *Engine {
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.Policy{MaxRetries: defaultMaxRetries, Delay: defaultRetryDelay}
	}
	if opts.ApplicationID == "" {
		opts.ApplicationID = DefaultApplicationID
	}
	return &Engine{store: store, registry: registry, retry: opts.Retry, appID: opts.ApplicationID}
}

// TransfileName is the transfile name recorded in every job of a run.
func (e *Engine) TransfileName(prefix string) string {
	return fmt.Sprintf("%s.%s.trans", prefix, e.appID)
}

// Send uploads every file awaiting download and submits a job for it. The
// first failure aborts the send; files done before it keep their jobs.
func (e *Engine) Send(ctx context.Context, files []*harvest.File, prefix, template string, p *progress.Progress) error {
	if err := jobs.ValidateTemplate(template); err != nil {
		return fmt.Errorf("transfile template: %w", err)
	}
	awaiting := harvest.Awaiting(files)
	p.SetTotal(awaiting)
	p.SetTotalBytes(totalBytes(awaiting))

	started := time.Now()
	defer func() {
		log.Ctx(ctx).Info().Dur("took", time.Since(started)).Int("files", p.FilesDone()).Msg("send finished")
	}()

	transfileName := e.TransfileName(prefix)
	for _, f := range awaiting {
		if err := e.sendOne(ctx, f, transfileName, template); err != nil {
			return err
		}
		p.IncFilesDone()
	}
	return nil
}

func (e *Engine) sendOne(ctx context.Context, f *harvest.File, transfileName, template string) error {
	var (
		contentID string
		err       error
	)
	if f.Resumable() {
		contentID, err = e.uploadResumable(ctx, f)
	} else {
		contentID, err = e.upload(ctx, f)
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", f.Name(), err)
	}
	log.Ctx(ctx).Info().Str("file", f.Name()).Str("content_id", contentID).Msg("file stored")

	spec, err := jobs.BuildSpec(template, f.Name(), transfileName, contentID)
	if err != nil {
		return fmt.Errorf("job spec for %s: %w", f.Name(), err)
	}
	jobID, err := e.registry.Submit(ctx, spec)
	if err != nil {
		return fmt.Errorf("submit job for %s: %w", f.Name(), err)
	}
	log.Ctx(ctx).Info().Str("file", f.Name()).Str("job_id", jobID).Msg("job submitted")
	return nil
}

// upload streams the whole file on every attempt.
func (e *Engine) upload(ctx context.Context, f *harvest.File) (string, error) {
	var id string
	err := retry.Do(ctx, e.retry, func(attempt int) error {
		rc, err := f.Open(ctx)
		if err != nil {
			return attemptFailed(ctx, f, attempt, err)
		}
		defer func() { _ = rc.Close() }()
		counter := bytecount.New(rc)
		f.Track(counter)
		id, err = e.store.AddFile(ctx, counter)
		if err != nil {
			return attemptFailed(ctx, f, attempt, err)
		}
		return nil
	})
	return id, err //nolint:wrapcheck // wrapped by sendOne
}

func attemptFailed(ctx context.Context, f *harvest.File, attempt int, err error) error {
	log.Ctx(ctx).Warn().Str("file", f.Name()).Int("attempt", attempt).Err(err).Msg("upload attempt failed")
	return err
}

func totalBytes(files []*harvest.File) int64 {
	var total int64
	for _, f := range files {
		if size := f.Size(); size != nil {
			total += *size
		}
	}
	return total
}
