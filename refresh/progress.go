package refresh

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker reports progress over a known number of sources.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu           sync.Mutex
	writer       io.Writer
	total        int
	current      int
	documents    int
	reportEvery  int
	lastReported int
	startTime    time.Time
	started      bool
}

// NewProgressTracker creates a tracker that writes a line every reportEvery sources.
func NewProgressTracker(writer io.Writer, total, reportEvery int) *ProgressTracker {
	if writer == nil {
		writer = io.Discard
	}
	if reportEvery <= 0 {
		reportEvery = 1
	}
	return &ProgressTracker{writer: writer, total: total, reportEvery: reportEvery}
}

// Start begins tracking and resets counters.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Now()
	p.started = true
	p.current = 0
	p.documents = 0
	p.lastReported = 0
}

// Add records one visited source and the documents it re-queued.
func (p *ProgressTracker) Add(documents int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.current = min(p.current+1, p.total)
	p.documents += documents
	if p.current-p.lastReported >= p.reportEvery {
		p.report()
		p.lastReported = p.current
	}
}

// Finish writes the final progress line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.current = p.total
	p.report()
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// Documents returns the number of documents re-queued so far.
func (p *ProgressTracker) Documents() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.documents
}

func (p *ProgressTracker) report() {
	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100.0
	}
	fmt.Fprintf(p.writer, "\rRefreshing: %d/%d sources (%.1f%%), %d documents queued",
		p.current, p.total, percentage, p.documents)
}
