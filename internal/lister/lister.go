// Package lister discovers candidate files on FTP, SFTP and HTTP sources.
package lister

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"harvester/internal/harvest"
	"harvester/internal/match"
)

// Lister produces file descriptors for a source. List returns only files
// awaiting download; ListAll returns every remote entry with its status.
// Callers must Close every returned file.
type Lister interface {
	List(ctx context.Context, src harvest.Source) ([]*harvest.File, error)
	ListAll(ctx context.Context, src harvest.Source) ([]*harvest.File, error)
}

// Set maps a source kind to its lister.
type Set map[harvest.Kind]Lister

func (s Set) For(kind harvest.Kind) (Lister, error) {
	l, ok := s[kind]
	if !ok || l == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoLister, kind)
	}
	return l, nil
}

// classify applies the filename glob, then the seqno rule.
func classify(src harvest.Source, glob *match.Glob, name string) (harvest.Status, *int) {
	if !glob.Matches(name) {
		return harvest.StatusSkippedByFilename, nil
	}
	fetch, seqno := match.NewSeqnoMatcher(src.SeqnoExtract, src.Seqno).Match(name)
	if fetch {
		return harvest.StatusAwaitingDownload, seqno
	}
	return harvest.StatusSkippedBySeqno, seqno
}

func sortByName(files []*harvest.File) {
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
}

// keep returns the files to hand out and closes the rest.
func keep(files []*harvest.File, all bool) []*harvest.File {
	if all {
		sortByName(files)
		return files
	}
	out := make([]*harvest.File, 0, len(files))
	for _, f := range files {
		if f.Status() == harvest.StatusAwaitingDownload {
			out = append(out, f)
			continue
		}
		_ = f.Close()
	}
	sortByName(out)
	return out
}

// sharedConn closes a connection once every file that uses it is closed.
type sharedConn struct {
	refs    atomic.Int32
	closeFn func() error
	once    sync.Once
	err     error
}

func newSharedConn(closeFn func() error) *sharedConn {
	return &sharedConn{closeFn: closeFn}
}

func (s *sharedConn) acquire() { s.refs.Add(1) }

func (s *sharedConn) release() error {
	if s.refs.Add(-1) <= 0 {
		return s.shutdown()
	}
	return nil
}

func (s *sharedConn) shutdown() error {
	s.once.Do(func() { s.err = s.closeFn() })
	return s.err
}
