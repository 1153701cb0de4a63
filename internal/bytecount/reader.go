// Package bytecount wraps a byte stream and counts what passes through it.
package bytecount

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

var ErrMarkUnsupported = errors.New("mark/reset not supported by underlying reader")

// Reader counts bytes read or skipped from the wrapped reader. Count may be
// read concurrently with Read.
type Reader struct {
	r         io.Reader
	count     atomic.Int64
	mark      int64
	markPos   int64
	markValid bool
}

// New wraps r with a zero count.
func New(r io.Reader) *Reader { return &Reader{r: r} }

// NewAt wraps r with the count pre-seeded to offset, for streams that resume
// part-way through a file.
func NewAt(r io.Reader, offset int64) *Reader {
	c := &Reader{r: r}
	c.count.Store(offset)
	return c
}

func (c *Reader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.count.Add(int64(n))
	}
	return n, err //nolint:wrapcheck // io.Reader contract
}

// Count returns the number of bytes seen so far, including the seed.
func (c *Reader) Count() int64 { return c.count.Load() }

// Skip discards up to n bytes and counts them.
func (c *Reader) Skip(n int64) (int64, error) {
	skipped, err := io.CopyN(io.Discard, c.r, n)
	c.count.Add(skipped)
	if errors.Is(err, io.EOF) {
		return skipped, nil
	}
	return skipped, err //nolint:wrapcheck // io contract
}

// Mark remembers the current position so Reset can return to it.
func (c *Reader) Mark() error {
	s, ok := c.r.(io.Seeker)
	if !ok {
		return ErrMarkUnsupported
	}
	pos, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	c.mark = c.count.Load()
	c.markPos = pos
	c.markValid = true
	return nil
}

// Reset rewinds to the last mark and restores the count recorded there.
func (c *Reader) Reset() error {
	s, ok := c.r.(io.Seeker)
	if !ok || !c.markValid {
		return ErrMarkUnsupported
	}
	if _, err := s.Seek(c.markPos, io.SeekStart); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	c.count.Store(c.mark)
	return nil
}
