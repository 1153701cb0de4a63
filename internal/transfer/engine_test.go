package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"harvester/internal/harvest"
	"harvester/internal/jobs"
	"harvester/internal/progress"
	"harvester/internal/retry"
	"harvester/internal/store"
)

const viafTemplate = "b=ticklerepo,c=utf8,t=iso,o=viaf,m=any@dbc.dk"

var fastRetry = retry.Policy{MaxRetries: 5, Delay: time.Millisecond}

type countingStore struct {
	*store.FileStore
	mu      sync.Mutex
	adds    int
	appends int
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	return &countingStore{FileStore: store.NewFileStore(t.TempDir())}
}

func (s *countingStore) AddFile(ctx context.Context, r io.Reader) (string, error) {
	s.mu.Lock()
	s.adds++
	s.mu.Unlock()
	return s.FileStore.AddFile(ctx, r)
}

func (s *countingStore) AppendStream(ctx context.Context, id string, r io.Reader) error {
	s.mu.Lock()
	s.appends++
	s.mu.Unlock()
	return s.FileStore.AppendStream(ctx, id, r)
}

func (s *countingStore) content(t *testing.T, id string) []byte {
	t.Helper()
	rc, err := s.Open(context.Background(), id)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Submit(ctx context.Context, spec jobs.Spec) (string, error) {
	ret := m.Called(ctx, spec)
	return ret.String(0), ret.Error(1)
}

// resetReader delivers its bytes and then fails like a dropped connection.
type resetReader struct{ r io.Reader }

func (f resetReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if errors.Is(err, io.EOF) {
		return n, errors.New("connection reset by peer")
	}
	return n, err
}

type flakyContent struct {
	data     []byte
	offset   int64
	failures int
	cut      int
	resumes  []int64
}

func (c *flakyContent) Open(context.Context) (io.ReadCloser, error) {
	rest := c.data[c.offset:]
	if c.failures > 0 {
		c.failures--
		n := c.cut
		if n > len(rest) {
			n = len(rest)
		}
		return io.NopCloser(resetReader{r: bytes.NewReader(rest[:n])}), nil
	}
	return io.NopCloser(bytes.NewReader(rest)), nil
}

func (c *flakyContent) SetResumePoint(offset int64) error {
	c.resumes = append(c.resumes, offset)
	c.offset = offset
	return nil
}

func (c *flakyContent) Close() error { return nil }

type plainContent struct {
	data      string
	failOpens int32
	opens     atomic.Int32
}

func (c *plainContent) Open(context.Context) (io.ReadCloser, error) {
	if c.opens.Add(1) <= c.failOpens {
		return nil, errors.New("503 service unavailable")
	}
	return io.NopCloser(strings.NewReader(c.data)), nil
}

func (c *plainContent) Close() error { return nil }

type unsupportedContent struct{ plainContent }

func (c *unsupportedContent) SetResumePoint(int64) error { return harvest.ErrResumeUnsupported }

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*31 + i/251) % 256)
	}
	return b
}

func acceptAll() *MockRegistry {
	reg := new(MockRegistry)
	reg.On("Submit", mock.Anything, mock.Anything).Return("job-1", nil)
	return reg
}

func TestResumableUploadSurvivesRepeatedFailures(t *testing.T) {
	data := payload(1 << 20)
	content := &flakyContent{data: data, failures: 3, cut: 100_000}
	f := harvest.NewFile("big.iso", harvest.StatusAwaitingDownload, content).WithSize(int64(len(data)))

	st := newCountingStore(t)
	reg := acceptAll()
	p := progress.NewTracker().Begin("src")
	e := NewEngine(st, reg, Options{Retry: fastRetry})

	require.NoError(t, e.Send(context.Background(), []*harvest.File{f}, "870970", viafTemplate, p))

	assert.Equal(t, []int64{0, 100_000, 200_000, 300_000}, content.resumes)
	assert.Equal(t, 4, st.appends)
	assert.Equal(t, 1, st.adds)
	assert.Equal(t, int64(len(data)), p.BytesTransferred())
	assert.Equal(t, 1, p.FilesDone())

	spec := reg.Calls[0].Arguments.Get(1).(jobs.Spec)
	assert.True(t, bytes.Equal(data, st.content(t, spec.DataFile)), "stored content differs from source")
}

func TestResumableUploadExhaustsRetries(t *testing.T) {
	content := &flakyContent{data: payload(1000), failures: 10, cut: 10}
	f := harvest.NewFile("f", harvest.StatusAwaitingDownload, content)

	st := newCountingStore(t)
	reg := new(MockRegistry)
	p := progress.NewTracker().Begin("src")
	e := NewEngine(st, reg, Options{Retry: retry.Policy{MaxRetries: 2, Delay: time.Millisecond}})

	err := e.Send(context.Background(), []*harvest.File{f}, "p", viafTemplate, p)
	require.ErrorContains(t, err, "max retries (2) exceeded")
	assert.Equal(t, 3, st.appends)
	assert.Equal(t, 0, p.FilesDone())
	reg.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestResumeUnsupportedIsNotRetried(t *testing.T) {
	content := &unsupportedContent{plainContent{data: "x"}}
	f := harvest.NewFile("f", harvest.StatusAwaitingDownload, content)

	st := newCountingStore(t)
	e := NewEngine(st, new(MockRegistry), Options{Retry: fastRetry})

	err := e.Send(context.Background(), []*harvest.File{f}, "p", viafTemplate, progress.NewTracker().Begin("s"))
	require.ErrorIs(t, err, harvest.ErrResumeUnsupported)
	assert.Equal(t, int32(0), content.opens.Load())
	assert.Equal(t, 0, st.appends)
}

func TestShortStreamIsResumed(t *testing.T) {
	data := payload(50)
	truncated := &truncatingContent{data: data, cut: 20}
	f := harvest.NewFile("f", harvest.StatusAwaitingDownload, truncated).WithSize(int64(len(data)))

	st := newCountingStore(t)
	reg := acceptAll()
	e := NewEngine(st, reg, Options{Retry: fastRetry})

	require.NoError(t, e.Send(context.Background(), []*harvest.File{f}, "p", viafTemplate, progress.NewTracker().Begin("s")))
	assert.Equal(t, 2, st.appends)
	spec := reg.Calls[0].Arguments.Get(1).(jobs.Spec)
	assert.Equal(t, data, st.content(t, spec.DataFile))
}

// truncatingContent ends the first stream early without an error.
type truncatingContent struct {
	data   []byte
	offset int64
	cut    int
	opened bool
}

func (c *truncatingContent) Open(context.Context) (io.ReadCloser, error) {
	rest := c.data[c.offset:]
	if !c.opened {
		c.opened = true
		rest = rest[:c.cut]
	}
	return io.NopCloser(bytes.NewReader(rest)), nil
}

func (c *truncatingContent) SetResumePoint(offset int64) error {
	c.offset = offset
	return nil
}

func (c *truncatingContent) Close() error { return nil }

func TestSendBuildsJobSpecifications(t *testing.T) {
	sponge := harvest.NewFile("sponge", harvest.StatusAwaitingDownload, &plainContent{data: "sponge"})
	bob := harvest.NewFile("bob", harvest.StatusAwaitingDownload, &plainContent{data: "bob"})
	skipped := harvest.NewFile("old", harvest.StatusSkippedBySeqno, &plainContent{data: "old"})

	reg := new(MockRegistry)
	var specs []jobs.Spec
	reg.On("Submit", mock.Anything, mock.AnythingOfType("jobs.Spec")).
		Run(func(args mock.Arguments) { specs = append(specs, args.Get(1).(jobs.Spec)) }).
		Return("42", nil)

	st := newCountingStore(t)
	p := progress.NewTracker().Begin("src")
	e := NewEngine(st, reg, Options{Retry: fastRetry})

	require.NoError(t, e.Send(context.Background(), []*harvest.File{sponge, bob, skipped}, "transfile", viafTemplate, p))

	reg.AssertNumberOfCalls(t, "Submit", 2)
	datafiles := map[string]bool{}
	for _, spec := range specs {
		assert.Equal(t, "viaf", spec.Format)
		assert.Equal(t, "iso", spec.Packaging)
		assert.Equal(t, "utf8", spec.Charset)
		assert.Equal(t, "ticklerepo", spec.Destination)
		assert.Equal(t, "any@dbc.dk", spec.Mail)
		assert.Equal(t, "transfile.harvester.trans", spec.Ancestry.Transfile)
		datafiles[spec.Ancestry.Datafile] = true
		assert.Equal(t, viafTemplate+",f="+spec.Ancestry.Datafile+"\nslut", spec.Ancestry.Details)
		assert.Equal(t, spec.Ancestry.Datafile, string(st.content(t, spec.DataFile)))
	}
	assert.Equal(t, map[string]bool{"sponge": true, "bob": true}, datafiles)
	assert.Equal(t, 2, p.FilesDone())
	assert.Equal(t, 2, p.TotalFiles())
}

func TestPlainUploadRetriesOpen(t *testing.T) {
	content := &plainContent{data: "<Products/>", failOpens: 2}
	f := harvest.NewFile("products.xml", harvest.StatusAwaitingDownload, content)

	st := newCountingStore(t)
	e := NewEngine(st, acceptAll(), Options{Retry: fastRetry})
	require.NoError(t, e.Send(context.Background(), []*harvest.File{f}, "p", viafTemplate, progress.NewTracker().Begin("s")))
	assert.Equal(t, int32(3), content.opens.Load())
	assert.Equal(t, 1, st.adds)
}

func TestInvalidTemplateFailsBeforeUpload(t *testing.T) {
	content := &plainContent{data: "x"}
	f := harvest.NewFile("f", harvest.StatusAwaitingDownload, content)
	st := newCountingStore(t)
	e := NewEngine(st, new(MockRegistry), Options{Retry: fastRetry})

	err := e.Send(context.Background(), []*harvest.File{f}, "p", viafTemplate+",f=fixed", progress.NewTracker().Begin("s"))
	require.ErrorIs(t, err, jobs.ErrTemplateHasFile)
	assert.Equal(t, int32(0), content.opens.Load())
	assert.Equal(t, 0, st.adds)
}

func TestSubmitFailureStopsSend(t *testing.T) {
	files := []*harvest.File{
		harvest.NewFile("a", harvest.StatusAwaitingDownload, &plainContent{data: "a"}),
		harvest.NewFile("b", harvest.StatusAwaitingDownload, &plainContent{data: "b"}),
	}
	reg := new(MockRegistry)
	reg.On("Submit", mock.Anything, mock.Anything).Return("", errors.New("registry down"))

	p := progress.NewTracker().Begin("s")
	err := NewEngine(newCountingStore(t), reg, Options{Retry: fastRetry}).Send(context.Background(), files, "p", viafTemplate, p)
	require.ErrorContains(t, err, "registry down")
	reg.AssertNumberOfCalls(t, "Submit", 1)
	assert.Equal(t, 0, p.FilesDone())
}

func TestTotalBytesSkipsUnknownSizes(t *testing.T) {
	files := []*harvest.File{
		harvest.NewFile("a", harvest.StatusAwaitingDownload, &plainContent{data: "aaaa"}).WithSize(4),
		harvest.NewFile("b", harvest.StatusAwaitingDownload, &plainContent{data: "bb"}),
		harvest.NewFile("c", harvest.StatusAwaitingDownload, &plainContent{data: "ccc"}).WithSize(3),
	}
	p := progress.NewTracker().Begin("s")
	require.NoError(t, NewEngine(newCountingStore(t), acceptAll(), Options{Retry: fastRetry}).Send(context.Background(), files, "p", viafTemplate, p))
	assert.Equal(t, int64(7), p.TotalBytes())
	assert.Equal(t, int64(9), p.BytesTransferred())
}

func TestAbortInterruptsRetryWait(t *testing.T) {
	content := &plainContent{data: "x", failOpens: 100}
	f := harvest.NewFile("f", harvest.StatusAwaitingDownload, content)
	e := NewEngine(newCountingStore(t), new(MockRegistry), Options{Retry: retry.Policy{MaxRetries: 5, Delay: time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	p := progress.NewTracker().Begin("s")
	p.BindCancel(cancel)

	done := make(chan error, 1)
	go func() { done <- e.Send(ctx, []*harvest.File{f}, "p", viafTemplate, p) }()

	deadline := time.Now().Add(2 * time.Second)
	for content.opens.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, p.Abort())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("send did not stop after abort")
	}
}

func TestTransfileName(t *testing.T) {
	e := NewEngine(nil, nil, Options{})
	assert.Equal(t, "870970.harvester.trans", e.TransfileName("870970"))
	assert.Equal(t, "x.custom.trans", NewEngine(nil, nil, Options{ApplicationID: "custom"}).TransfileName("x"))
}
