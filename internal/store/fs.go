package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	fileutil "harvester/internal/file"
)

// FileStore keeps content under <dataDir>/content/<id>.
type FileStore struct {
	dir string
}

func NewFileStore(dataDir string) *FileStore {
	if dataDir == "" {
		dataDir = "data"
	}
	return &FileStore{dir: filepath.Join(dataDir, "content")}
}

func (s *FileStore) AddFile(ctx context.Context, r io.Reader) (string, error) {
	id := uuid.NewString()
	if err := fileutil.CopyAtomic(filepath.Join(s.dir, id), contextReader{ctx: ctx, r: r}); err != nil {
		return "", fmt.Errorf("add file: %w", err)
	}
	return id, nil
}

func (s *FileStore) ByteSize(_ context.Context, id string) (int64, error) {
	path, err := s.path(id)
	if err != nil {
		return 0, err
	}
	n, err := fileutil.Size(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", id, err)
	}
	return n, nil
}

// AppendStream appends r to id. Bytes written before a failure are kept.
func (s *FileStore) AppendStream(ctx context.Context, id string, r io.Reader) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if _, err := fileutil.AppendFrom(path, contextReader{ctx: ctx, r: r}); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("append to %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) Open(_ context.Context, id string) (io.ReadCloser, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // id is a validated uuid
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	return f, nil
}

// path rejects ids this store could not have handed out.
func (s *FileStore) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return filepath.Join(s.dir, id), nil
}
