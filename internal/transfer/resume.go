package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"harvester/internal/bytecount"
	"harvester/internal/harvest"
	"harvester/internal/retry"
)

var errShortAppend = errors.New("stored content shorter than source")

type resumeState int

const (
	notStarted resumeState = iota
	partiallyStored
	complete
	failed
)

func (s resumeState) String() string {
	switch s {
	case notStarted:
		return "not-started"
	case partiallyStored:
		return "partially-stored"
	case complete:
		return "complete"
	default:
		return "failed"
	}
}

// resumableUpload appends a file to one content id across attempts. Each
// attempt starts from the length the store reports, never from what the
// source claims to have sent.
type resumableUpload struct {
	store   ContentStore
	file    *harvest.File
	id      string
	state   resumeState
	offset  int64
}

func (e *Engine) uploadResumable(ctx context.Context, f *harvest.File) (string, error) {
	id, err := e.store.AddFile(ctx, bytes.NewReader(nil))
	if err != nil {
		return "", fmt.Errorf("create content: %w", err)
	}
	u := &resumableUpload{store: e.store, file: f, id: id}
	err = retry.Do(ctx, e.retry, func(attempt int) error {
		if err := u.step(ctx); err != nil {
			log.Ctx(ctx).Warn().Str("file", f.Name()).Str("content_id", id).Int("attempt", attempt).
				Str("state", u.state.String()).Int64("offset", u.offset).Err(err).Msg("resumable upload attempt failed")
			return err
		}
		return nil
	})
	if err != nil {
		u.state = failed
		return "", err //nolint:wrapcheck // wrapped by sendOne
	}
	return id, nil
}

func (u *resumableUpload) step(ctx context.Context) error {
	if err := u.sync(ctx); err != nil {
		return err
	}
	if err := u.file.SetResumePoint(u.offset); err != nil {
		if errors.Is(err, harvest.ErrResumeUnsupported) {
			u.state = failed
			return retry.Permanent(err)
		}
		return fmt.Errorf("resume at %d: %w", u.offset, err)
	}
	rc, err := u.file.Open(ctx)
	if err != nil {
		return fmt.Errorf("open at %d: %w", u.offset, err)
	}
	counter := bytecount.NewAt(rc, u.offset)
	u.file.Track(counter)
	appendErr := u.store.AppendStream(ctx, u.id, counter)
	_ = rc.Close()
	if appendErr != nil {
		return fmt.Errorf("append at %d: %w", u.offset, appendErr)
	}

	if err := u.sync(ctx); err != nil {
		return err
	}
	if size := u.file.Size(); size != nil && u.offset < *size {
		return fmt.Errorf("%w: %d of %d bytes", errShortAppend, u.offset, *size)
	}
	u.state = complete
	return nil
}

// sync moves to the state implied by the stored length.
func (u *resumableUpload) sync(ctx context.Context) error {
	size, err := u.store.ByteSize(ctx, u.id)
	if err != nil {
		return fmt.Errorf("stored size of %s: %w", u.id, err)
	}
	u.offset = size
	if size > 0 {
		u.state = partiallyStored
	}
	return nil
}
