package lister

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog/log"

	"harvester/internal/harvest"
	"harvester/internal/match"
	"harvester/internal/proxy"
)

const defaultFTPTimeout = 60 * time.Second

// FTPEntry is one remote directory entry.
type FTPEntry struct {
	Name  string
	Size  int64
	IsDir bool
}

// FTPConn is the subset of an FTP session the lister needs. The connection
// is already logged in and positioned in the source directory.
type FTPConn interface {
	List() ([]FTPEntry, error)
	Retr(name string, offset int64) (io.ReadCloser, error)
	NoOp() error
	Quit() error
}

// FTPDialFunc opens an FTP session for a source.
type FTPDialFunc func(ctx context.Context, src harvest.Source) (FTPConn, error)

// FTP lists FTP sources. Files from one listing share one connection.
type FTP struct {
	dial FTPDialFunc
}

// NewFTP dials through resolver when the host requires it.
func NewFTP(resolver *proxy.Resolver, timeout time.Duration) *FTP {
	if timeout <= 0 {
		timeout = defaultFTPTimeout
	}
	return &FTP{dial: dialFTP(resolver, timeout)}
}

// NewFTPWithDialer uses a custom dialer.
func NewFTPWithDialer(dial FTPDialFunc) *FTP { return &FTP{dial: dial} }

func (l *FTP) List(ctx context.Context, src harvest.Source) ([]*harvest.File, error) {
	files, err := l.list(ctx, src)
	if err != nil {
		return nil, err
	}
	return keep(files, false), nil
}

func (l *FTP) ListAll(ctx context.Context, src harvest.Source) ([]*harvest.File, error) {
	files, err := l.list(ctx, src)
	if err != nil {
		return nil, err
	}
	return keep(files, true), nil
}

func (l *FTP) list(ctx context.Context, src harvest.Source) ([]*harvest.File, error) {
	glob, err := match.NewGlob(src.FilesPattern)
	if err != nil {
		return nil, err
	}
	session := &ftpSession{src: src, dial: l.dial}
	conn, err := session.ensure(ctx)
	if err != nil {
		return nil, err
	}
	shared := newSharedConn(session.close)

	entries, err := conn.List()
	if err != nil {
		_ = shared.shutdown()
		return nil, fmt.Errorf("list %s%s: %w", src.Host, src.Dir, err)
	}

	files := make([]*harvest.File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		status, seqno := classify(src, glob, e.Name)
		shared.acquire()
		f := harvest.NewFile(e.Name, status, &ftpContent{session: session, shared: shared, name: e.Name}).
			WithSize(e.Size).
			WithSeqno(seqno)
		files = append(files, f)
	}
	if len(files) == 0 {
		_ = shared.shutdown()
	}
	log.Ctx(ctx).Debug().Int("entries", len(entries)).Int("files", len(files)).Msg("ftp listing done")
	return files, nil
}

// ftpSession reconnects transparently when the control connection died.
type ftpSession struct {
	mu   sync.Mutex
	src  harvest.Source
	dial FTPDialFunc
	conn FTPConn
}

func (s *ftpSession) ensure(ctx context.Context) (FTPConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		if err := s.conn.NoOp(); err == nil {
			return s.conn, nil
		}
		log.Ctx(ctx).Info().Str("host", s.src.Host).Msg("ftp connection lost, reconnecting")
		_ = s.conn.Quit()
		s.conn = nil
	}
	conn, err := s.dial(ctx, s.src)
	if err != nil {
		return nil, fmt.Errorf("ftp connect %s: %w", s.src.Addr(), err)
	}
	s.conn = conn
	return conn, nil
}

func (s *ftpSession) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Quit()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("ftp quit: %w", err)
	}
	return nil
}

type ftpContent struct {
	session *ftpSession
	shared  *sharedConn
	name    string
	offset  int64
}

func (c *ftpContent) Open(ctx context.Context) (io.ReadCloser, error) {
	conn, err := c.session.ensure(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := conn.Retr(c.name, c.offset)
	if err != nil {
		return nil, fmt.Errorf("retr %s at %d: %w", c.name, c.offset, err)
	}
	return rc, nil
}

func (c *ftpContent) SetResumePoint(offset int64) error {
	c.offset = offset
	return nil
}

func (c *ftpContent) Close() error { return c.shared.release() }

// serverConn adapts *ftp.ServerConn.
type serverConn struct {
	c *ftp.ServerConn
}

func (s serverConn) List() ([]FTPEntry, error) {
	entries, err := s.c.List("")
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	out := make([]FTPEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, FTPEntry{Name: e.Name, Size: int64(e.Size), IsDir: e.Type == ftp.EntryTypeFolder}) //nolint:gosec // sizes fit int64
	}
	return out, nil
}

func (s serverConn) Retr(name string, offset int64) (io.ReadCloser, error) {
	return s.c.RetrFrom(name, uint64(offset)) //nolint:gosec,wrapcheck // offset is never negative
}

func (s serverConn) NoOp() error { return s.c.NoOp() } //nolint:wrapcheck
func (s serverConn) Quit() error { return s.c.Quit() } //nolint:wrapcheck

func dialFTP(resolver *proxy.Resolver, timeout time.Duration) FTPDialFunc {
	return func(ctx context.Context, src harvest.Source) (FTPConn, error) {
		c, err := ftp.Dial(src.Addr(),
			ftp.DialWithContext(ctx),
			ftp.DialWithTimeout(timeout),
			ftp.DialWithDialFunc(func(network, address string) (net.Conn, error) {
				return resolver.DialContext(ctx, network, address)
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}
		if err := c.Login(src.Username, src.Password); err != nil {
			_ = c.Quit()
			return nil, fmt.Errorf("login as %s: %w", src.Username, err)
		}
		if src.Dir != "" {
			if err := c.ChangeDir(src.Dir); err != nil {
				_ = c.Quit()
				return nil, fmt.Errorf("cd %s: %w", src.Dir, err)
			}
		}
		return serverConn{c: c}, nil
	}
}
