// Package store keeps uploaded file content. Appends are durable up to the
// last byte written, so an interrupted upload can continue from ByteSize.
package store

import (
	"context"
	"io"
)

// contextReader stops reading once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck // context errors are matched by callers
	}
	return c.r.Read(p) //nolint:wrapcheck
}
