package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker tracks and reports how many sources and chunks have been
// reembedded. Reports are written whenever the source count advances by at
// least reportInterval since the previous report.
type ProgressTracker struct {
	writer         io.Writer
	total          int
	current        int
	chunks         int
	failed         int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
	mu             sync.Mutex
}

// NewProgressTracker creates a new progress tracker for total sources.
func NewProgressTracker(writer io.Writer, total, reportInterval int) *ProgressTracker {
	if reportInterval < 1 {
		reportInterval = 1
	}
	return &ProgressTracker{
		writer:         writer,
		total:          total,
		reportInterval: reportInterval,
	}
}

// Start begins tracking progress.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.current = 0
	p.chunks = 0
	p.failed = 0
	p.lastReported = 0
}

// Done records a completed batch of sources holding chunks chunks.
func (p *ProgressTracker) Done(sources, chunks int) {
	p.advance(sources, chunks, 0)
}

// Failed records a batch of sources that could not be embedded.
func (p *ProgressTracker) Failed(sources int) {
	p.advance(sources, 0, sources)
}

func (p *ProgressTracker) advance(sources, chunks, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.current = min(p.current+sources, p.total)
	p.chunks += chunks
	p.failed += failed

	if p.current-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.current
	}
}

// Finish prints the final progress line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.report()
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time elapsed since Start was called.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}

	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressTracker) report() {
	percentage := 100.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100.0
	}

	rate := 0.0
	if elapsed := time.Since(p.startTime).Seconds(); elapsed > 0 {
		rate = float64(p.chunks) / elapsed
	}

	fmt.Fprintf(p.writer, "\rSources: %d/%d (%.1f%%), %d failed - %d chunks, %.1f chunks/s",
		p.current, p.total, percentage, p.failed, p.chunks, rate)
}
