package lister

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"harvester/internal/harvest"
	"harvester/internal/match"
	"harvester/internal/proxy"
)

const defaultSFTPTimeout = 60 * time.Second

// SFTPConn is the subset of an SFTP session the lister needs.
type SFTPConn interface {
	ReadDir(dir string) ([]os.FileInfo, error)
	Open(name string) (io.ReadSeekCloser, error)
	Getwd() (string, error)
	Close() error
}

// SFTPDialFunc opens an SFTP session for a source.
type SFTPDialFunc func(ctx context.Context, src harvest.Source) (SFTPConn, error)

// SFTP lists SFTP sources. Files from one listing share one session.
type SFTP struct {
	dial SFTPDialFunc
}

func NewSFTP(resolver *proxy.Resolver, timeout time.Duration) *SFTP {
	if timeout <= 0 {
		timeout = defaultSFTPTimeout
	}
	return &SFTP{dial: dialSFTP(resolver, timeout)}
}

// NewSFTPWithDialer uses a custom dialer.
func NewSFTPWithDialer(dial SFTPDialFunc) *SFTP { return &SFTP{dial: dial} }

func (l *SFTP) List(ctx context.Context, src harvest.Source) ([]*harvest.File, error) {
	files, err := l.list(ctx, src)
	if err != nil {
		return nil, err
	}
	return keep(files, false), nil
}

func (l *SFTP) ListAll(ctx context.Context, src harvest.Source) ([]*harvest.File, error) {
	files, err := l.list(ctx, src)
	if err != nil {
		return nil, err
	}
	return keep(files, true), nil
}

func (l *SFTP) list(ctx context.Context, src harvest.Source) ([]*harvest.File, error) {
	glob, err := match.NewGlob(src.FilesPattern)
	if err != nil {
		return nil, err
	}
	session := &sftpSession{src: src, dial: l.dial}
	conn, err := session.ensure(ctx)
	if err != nil {
		return nil, err
	}
	shared := newSharedConn(session.close)

	entries, err := conn.ReadDir(remoteDir(src))
	if err != nil {
		_ = shared.shutdown()
		return nil, fmt.Errorf("read dir %s: %w", remoteDir(src), err)
	}

	files := make([]*harvest.File, 0, len(entries))
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		status, seqno := classify(src, glob, e.Name())
		shared.acquire()
		f := harvest.NewFile(e.Name(), status, &sftpContent{
			session: session,
			shared:  shared,
			path:    path.Join(remoteDir(src), e.Name()),
		}).WithSize(e.Size()).WithSeqno(seqno)
		files = append(files, f)
	}
	if len(files) == 0 {
		_ = shared.shutdown()
	}
	log.Ctx(ctx).Debug().Int("entries", len(entries)).Int("files", len(files)).Msg("sftp listing done")
	return files, nil
}

func remoteDir(src harvest.Source) string {
	if src.Dir == "" {
		return "."
	}
	return src.Dir
}

type sftpSession struct {
	mu   sync.Mutex
	src  harvest.Source
	dial SFTPDialFunc
	conn SFTPConn
}

// ensure reconnects when the session no longer answers.
func (s *sftpSession) ensure(ctx context.Context) (SFTPConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		if _, err := s.conn.Getwd(); err == nil {
			return s.conn, nil
		}
		log.Ctx(ctx).Info().Str("host", s.src.Host).Msg("sftp session lost, reconnecting")
		_ = s.conn.Close()
		s.conn = nil
	}
	conn, err := s.dial(ctx, s.src)
	if err != nil {
		return nil, fmt.Errorf("sftp connect %s: %w", s.src.Addr(), err)
	}
	s.conn = conn
	return conn, nil
}

func (s *sftpSession) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("sftp close: %w", err)
	}
	return nil
}

type sftpContent struct {
	session *sftpSession
	shared  *sharedConn
	path    string
	offset  int64
}

func (c *sftpContent) Open(ctx context.Context) (io.ReadCloser, error) {
	conn, err := c.session.ensure(ctx)
	if err != nil {
		return nil, err
	}
	f, err := conn.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.path, err)
	}
	if c.offset > 0 {
		if _, err := f.Seek(c.offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("seek %s to %d: %w", c.path, c.offset, err)
		}
	}
	return f, nil
}

func (c *sftpContent) SetResumePoint(offset int64) error {
	c.offset = offset
	return nil
}

func (c *sftpContent) Close() error { return c.shared.release() }

// sftpClient owns both the SFTP subsystem and its SSH transport.
type sftpClient struct {
	*sftp.Client
	ssh *ssh.Client
}

func (c sftpClient) Open(name string) (io.ReadSeekCloser, error) {
	return c.Client.Open(name) //nolint:wrapcheck // wrapped by caller
}

func (c sftpClient) Close() error {
	sftpErr := c.Client.Close()
	sshErr := c.ssh.Close()
	if sftpErr != nil {
		return sftpErr //nolint:wrapcheck
	}
	return sshErr //nolint:wrapcheck
}

func dialSFTP(resolver *proxy.Resolver, timeout time.Duration) SFTPDialFunc {
	return func(ctx context.Context, src harvest.Source) (SFTPConn, error) {
		auth, err := sshAuth(src)
		if err != nil {
			return nil, err
		}
		cfg := &ssh.ClientConfig{
			User:            src.Username,
			Auth:            auth,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // hosts are not pinned
			Timeout:         timeout,
		}
		addr := src.Addr()
		netConn, err := resolver.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err //nolint:wrapcheck // already carries the address
		}
		c, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
		if err != nil {
			_ = netConn.Close()
			return nil, fmt.Errorf("ssh handshake: %w", err)
		}
		sshClient := ssh.NewClient(c, chans, reqs)
		client, err := sftp.NewClient(sshClient)
		if err != nil {
			_ = sshClient.Close()
			return nil, fmt.Errorf("start sftp: %w", err)
		}
		return sftpClient{Client: client, ssh: sshClient}, nil
	}
}

// sshAuth uses the password and, when set, a private key given either as
// PEM text or as a path to a key file.
func sshAuth(src harvest.Source) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if src.PrivateKey != "" {
		pem := []byte(src.PrivateKey)
		if !strings.HasPrefix(strings.TrimSpace(src.PrivateKey), "-----BEGIN") {
			b, err := os.ReadFile(src.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("read private key: %w", err)
			}
			pem = b
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if src.Password != "" {
		methods = append(methods, ssh.Password(src.Password))
	}
	return methods, nil
}
