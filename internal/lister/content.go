package lister

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// memContent serves a body already fetched during listing.
type memContent struct {
	data   []byte
	offset int64
}

func newMemContent(data []byte) *memContent { return &memContent{data: data} }

func (m *memContent) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data[m.offset:])), nil
}

func (m *memContent) SetResumePoint(offset int64) error {
	if offset < 0 || offset > int64(len(m.data)) {
		return fmt.Errorf("resume point %d outside content of %d bytes", offset, len(m.data))
	}
	m.offset = offset
	return nil
}

func (m *memContent) Close() error { return nil }
