package harvest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

type Status string

const (
	StatusSkippedByFilename Status = "SKIPPED_BY_FILENAME"
	StatusSkippedBySeqno    Status = "SKIPPED_BY_SEQNO"
	StatusAwaitingDownload  Status = "AWAITING_DOWNLOAD"
)

// Content is the remote side of a File. Open may be called again after a
// failed transfer.
type Content interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Close() error
}

// Resumer is implemented by content that can start reading at an offset.
type Resumer interface {
	SetResumePoint(offset int64) error
}

// ByteCounter reports how many bytes of a file have been transferred.
type ByteCounter interface {
	Count() int64
}

// File is a single discovered remote file. Status and identity are fixed at
// creation.
type File struct {
	name    string
	size    *int64
	seqno   *int
	status  Status
	content Content

	counter   atomic.Pointer[ByteCounter]
	closeOnce sync.Once
	closeErr  error
}

// NewFile creates a descriptor; content may be nil for listings that are
// only inspected.
func NewFile(name string, status Status, content Content) *File {
	return &File{name: name, status: status, content: content}
}

// WithSize records the remote size.
func (f *File) WithSize(n int64) *File {
	f.size = &n
	return f
}

// WithSeqno records the extracted sequence number.
func (f *File) WithSeqno(seqno *int) *File {
	f.seqno = seqno
	return f
}

func (f *File) Name() string   { return f.name }
func (f *File) Size() *int64   { return f.size }
func (f *File) Seqno() *int    { return f.seqno }
func (f *File) Status() Status { return f.status }

// UploadFilename is the name used for the file downstream.
func (f *File) UploadFilename(prefix string) string {
	if prefix == "" {
		return f.name
	}
	return prefix + "." + f.name
}

// Open opens the content stream.
func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	if f.content == nil {
		return nil, fmt.Errorf("open %s: no content", f.name)
	}
	return f.content.Open(ctx)
}

// Resumable reports whether SetResumePoint is supported.
func (f *File) Resumable() bool {
	_, ok := f.content.(Resumer)
	return ok
}

// SetResumePoint makes the next Open start at offset.
func (f *File) SetResumePoint(offset int64) error {
	r, ok := f.content.(Resumer)
	if !ok {
		return fmt.Errorf("%s: %w", f.name, ErrResumeUnsupported)
	}
	return r.SetResumePoint(offset)
}

// Track attaches the counter of the stream currently being transferred.
func (f *File) Track(c ByteCounter) { f.counter.Store(&c) }

// BytesTransferred returns the count of the tracked stream, or 0.
func (f *File) BytesTransferred() int64 {
	c := f.counter.Load()
	if c == nil {
		return 0
	}
	return (*c).Count()
}

// Close releases the underlying connection. It is safe to call repeatedly.
func (f *File) Close() error {
	f.closeOnce.Do(func() {
		if f.content != nil {
			f.closeErr = f.content.Close()
		}
	})
	return f.closeErr
}

// CloseAll closes every file and returns the first error.
func CloseAll(files []*File) error {
	var first error
	for _, f := range files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Awaiting filters files with StatusAwaitingDownload.
func Awaiting(files []*File) []*File {
	out := make([]*File, 0, len(files))
	for _, f := range files {
		if f.status == StatusAwaitingDownload {
			out = append(out, f)
		}
	}
	return out
}

// MaxSeqno returns the largest seqno among files, or current when none carry one.
func MaxSeqno(files []*File, current *int) *int {
	var best *int
	for _, f := range files {
		if f.seqno == nil {
			continue
		}
		if best == nil || *f.seqno > *best {
			n := *f.seqno
			best = &n
		}
	}
	if best == nil {
		return current
	}
	return best
}
