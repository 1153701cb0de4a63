package lister

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"harvester/internal/harvest"
	"harvester/internal/match"
	"harvester/internal/proxy"
	"harvester/internal/retry"
)

const (
	defaultHTTPTimeout    = 60 * time.Second
	defaultHTTPRetries    = 6
	defaultHTTPRetryDelay = 10 * time.Second
)

var filenamePattern = regexp.MustCompile(`.*filename=["']([^"']+)["']`)

// HTTPOptions configures the HTTP lister.
type HTTPOptions struct {
	Client  *http.Client
	Proxy   *proxy.Resolver
	Timeout time.Duration
	Retry   retry.Policy
	Now     func() time.Time
}

// HTTP lists HTTP sources: a direct download, a landing page scraped for
// the download URL, or a paginated JSON API.
type HTTP struct {
	client *http.Client
	retry  retry.Policy
	now    func() time.Time
}

func NewHTTP(opts HTTPOptions) *HTTP {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.Policy{MaxRetries: defaultHTTPRetries, Delay: defaultHTTPRetryDelay}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	client := opts.Client
	if client == nil {
		// The body is read by the transfer long after listing, so the
		// timeout bounds connecting and the response head only.
		transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default
		dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
		transport.DialContext = dialer.DialContext
		transport.TLSHandshakeTimeout = opts.Timeout
		transport.ResponseHeaderTimeout = opts.Timeout
		if opts.Proxy.Enabled() {
			transport.Proxy = opts.Proxy.HTTPProxy
		}
		client = &http.Client{Transport: transport}
	}
	return &HTTP{client: client, retry: opts.Retry, now: opts.Now}
}

// List returns the single file (or one per page) exposed by the source.
func (h *HTTP) List(ctx context.Context, src harvest.Source) ([]*harvest.File, error) {
	switch {
	case src.ListHandler == harvest.ListPaginated:
		return h.listPages(ctx, src)
	case src.URLPattern != "":
		return h.listScraped(ctx, src)
	default:
		rawURL, err := SubstituteTokens(src.URL, h.now())
		if err != nil {
			return nil, err
		}
		f, err := h.listDirect(ctx, src, rawURL)
		if err != nil {
			return nil, err
		}
		return []*harvest.File{f}, nil
	}
}

// ListAll is List: HTTP sources have no skipped entries.
func (h *HTTP) ListAll(ctx context.Context, src harvest.Source) ([]*harvest.File, error) {
	return h.List(ctx, src)
}

func (h *HTTP) listDirect(ctx context.Context, src harvest.Source, rawURL string) (*harvest.File, error) {
	resp, err := h.get(ctx, src, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength == 0 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrEmptyBody, rawURL)
	}
	name := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = filenameFromURL(rawURL)
	}
	log.Ctx(ctx).Debug().Str("url", rawURL).Str("filename", name).Msg("http file found")

	f := harvest.NewFile(name, harvest.StatusAwaitingDownload, &httpContent{h: h, src: src, url: rawURL, pending: resp.Body})
	if resp.ContentLength > 0 {
		f.WithSize(resp.ContentLength)
	}
	return f, nil
}

// listScraped fetches the landing page, picks the shortest match of the
// URL pattern and downloads what it points at.
func (h *HTTP) listScraped(ctx context.Context, src harvest.Source) ([]*harvest.File, error) {
	landing, err := SubstituteTokens(src.URL, h.now())
	if err != nil {
		return nil, err
	}
	body, err := h.fetchBody(ctx, src, landing)
	if err != nil {
		return nil, err
	}
	found, err := findInContent(string(body), src.URLPattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", landing, err)
	}
	resolved, err := resolveURL(landing, found)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Debug().Str("landing", landing).Str("url", resolved).Msg("resolved download url")

	f, err := h.listDirect(ctx, src, resolved)
	if err != nil {
		return nil, err
	}
	return []*harvest.File{f}, nil
}

// findInContent returns the shortest substring of content matching the glob.
func findInContent(content, pattern string) (string, error) {
	re, err := regexp.Compile(match.GlobExpr(pattern))
	if err != nil {
		return "", fmt.Errorf("compile url pattern %q: %w", pattern, err)
	}
	matches := re.FindAllString(content, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("%w %q", ErrNoMatch, pattern)
	}
	shortest := matches[0]
	for _, m := range matches[1:] {
		if len(m) < len(shortest) {
			shortest = m
		}
	}
	return shortest, nil
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, base)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, ref)
	}
	return b.ResolveReference(r).String(), nil
}

func (h *HTTP) fetchBody(ctx context.Context, src harvest.Source, rawURL string) ([]byte, error) {
	resp, err := h.get(ctx, src, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyBody, rawURL)
	}
	return body, nil
}

// get issues a GET with the source's headers. Transport errors and the
// statuses 404, 500 and 502 are retried; any other status other than 200
// or 206 fails at once.
func (h *HTTP) get(ctx context.Context, src harvest.Source, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	var resp *http.Response
	err = retry.Do(ctx, h.retry, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrInvalidURL, err)) //nolint:errorlint // one wrapped sentinel
		}
		for k, v := range src.Headers {
			req.Header.Set(k, v)
		}
		r, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			log.Ctx(ctx).Warn().Str("url", rawURL).Int("attempt", attempt).Err(err).Msg("http request failed")
			return fmt.Errorf("get %s: %w", rawURL, err)
		}
		switch r.StatusCode {
		case http.StatusOK, http.StatusPartialContent:
			resp = r
			return nil
		case http.StatusNotFound, http.StatusInternalServerError, http.StatusBadGateway:
			_ = r.Body.Close()
			log.Ctx(ctx).Warn().Str("url", rawURL).Int("status", r.StatusCode).Int("attempt", attempt).Msg("retryable http status")
			return fmt.Errorf("%w %d from %s", ErrUnexpectedStatus, r.StatusCode, rawURL)
		default:
			_ = r.Body.Close()
			return retry.Permanent(fmt.Errorf("%w %d from %s", ErrUnexpectedStatus, r.StatusCode, rawURL))
		}
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// httpContent hands out the listing response first and refetches on later
// opens.
type httpContent struct {
	h       *HTTP
	src     harvest.Source
	url     string
	mu      sync.Mutex
	pending io.ReadCloser
}

func (c *httpContent) Open(ctx context.Context) (io.ReadCloser, error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending != nil {
		return pending, nil
	}
	resp, err := c.h.get(ctx, c.src, c.url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *httpContent) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	err := c.pending.Close()
	c.pending = nil
	if err != nil && !errors.Is(err, http.ErrBodyReadAfterClose) {
		return fmt.Errorf("close response: %w", err)
	}
	return nil
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	m := filenamePattern.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return m[1]
}

// filenameFromURL takes the last path segment, escaped for use as a
// downstream filename.
func filenameFromURL(rawURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(rawURL), "/")
	base := trimmed[strings.LastIndex(trimmed, "/")+1:]
	return url.QueryEscape(base)
}
