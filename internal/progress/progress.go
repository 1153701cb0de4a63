// Package progress tracks per-run file and byte counters and renders them
// as a short status line.
package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"harvester/internal/harvest"
)

// SlowThreshold marks runs that took too long.
const SlowThreshold = time.Hour

const (
	MessageNoFiles = "no files"
	MessageFailed  = "failed"
	MessageAborted = "Aborted"
	messageListing = "listing"
)

// Progress belongs to a single run. Counters never decrease.
type Progress struct {
	started time.Time
	now     func() time.Time

	filesDone  atomic.Int64
	totalBytes atomic.Int64
	bytesSeen  atomic.Int64

	mu      sync.Mutex
	files   []*harvest.File
	message string
	done    bool
	aborted bool
	cancel  context.CancelFunc
}

func newProgress(now func() time.Time) *Progress {
	return &Progress{started: now(), now: now}
}

// SetTotal records the files of the run. Their byte counters feed
// BytesTransferred.
func (p *Progress) SetTotal(files []*harvest.File) {
	p.mu.Lock()
	p.files = append([]*harvest.File(nil), files...)
	p.mu.Unlock()
}

func (p *Progress) SetTotalBytes(n int64) { p.totalBytes.Store(n) }

func (p *Progress) IncFilesDone() int { return int(p.filesDone.Add(1)) }

// SetMessage overrides the computed status.
func (p *Progress) SetMessage(msg string) {
	p.mu.Lock()
	p.message = msg
	p.mu.Unlock()
}

func (p *Progress) FilesDone() int { return int(p.filesDone.Load()) }

func (p *Progress) TotalFiles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

func (p *Progress) TotalBytes() int64 { return p.totalBytes.Load() }

// BytesTransferred sums the files' counters. A file restarted from zero
// does not make the value go back.
func (p *Progress) BytesTransferred() int64 {
	p.mu.Lock()
	var sum int64
	for _, f := range p.files {
		sum += f.BytesTransferred()
	}
	p.mu.Unlock()
	for {
		seen := p.bytesSeen.Load()
		if sum <= seen {
			return seen
		}
		if p.bytesSeen.CompareAndSwap(seen, sum) {
			return sum
		}
	}
}

// Status renders the override message, "listing" before the files are
// known, or the bytes transferred with a percentage of bytes (when the
// total is known) or of files.
func (p *Progress) Status() string {
	p.mu.Lock()
	msg, total := p.message, len(p.files)
	p.mu.Unlock()
	if msg != "" {
		return msg
	}
	if total == 0 {
		return messageListing
	}
	transferred := p.BytesTransferred()
	if tb := p.TotalBytes(); tb != 0 {
		return fmt.Sprintf("%s %.1f%%", human(transferred), 100*float64(transferred)/float64(tb))
	}
	return fmt.Sprintf("%s %.1f%%", human(transferred), 100*float64(p.FilesDone())/float64(total))
}

// Age is the time since the run began.
func (p *Progress) Age() time.Duration { return p.now().Sub(p.started) }

func (p *Progress) StartedAt() time.Time { return p.started }

// Done marks the run finished and returns its duration.
func (p *Progress) Done() time.Duration {
	age := p.Age()
	p.mu.Lock()
	p.done = true
	p.message = fmt.Sprintf("Done in %ds", int64(age/time.Second))
	p.mu.Unlock()
	return age
}

// Finish marks the run finished, keeping the current message.
func (p *Progress) Finish() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}

// BindCancel sets the function Abort uses to stop the run.
func (p *Progress) BindCancel(cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
}

// Abort stops a running run. It reports false if the run already ended.
func (p *Progress) Abort() bool {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return false
	}
	p.aborted = true
	p.done = true
	p.message = MessageAborted
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func (p *Progress) Aborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}

func (p *Progress) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.done
}

// Snapshot is a point-in-time copy for display.
type Snapshot struct {
	Status           string    `json:"status"`
	Running          bool      `json:"running"`
	Aborted          bool      `json:"aborted"`
	FilesDone        int       `json:"files_done"`
	TotalFiles       int       `json:"total_files"`
	BytesTransferred int64     `json:"bytes_transferred"`
	TotalBytes       int64     `json:"total_bytes"`
	StartedAt        time.Time `json:"started_at"`
}

func (p *Progress) Snapshot() Snapshot {
	return Snapshot{
		Status:           p.Status(),
		Running:          p.Running(),
		Aborted:          p.Aborted(),
		FilesDone:        p.FilesDone(),
		TotalFiles:       p.TotalFiles(),
		BytesTransferred: p.BytesTransferred(),
		TotalBytes:       p.TotalBytes(),
		StartedAt:        p.started,
	}
}

func human(n int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(GB))
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(MB))
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/float64(KB))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
