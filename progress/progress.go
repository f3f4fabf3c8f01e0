// Package progress renders merge progress as a fixed-width text bar and
// throttles how often it is emitted to the transport.
package progress

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pithecene-io/coalesce/log"
)

const (
	// Segments is the width of the bar.
	Segments = 20
	// DefaultInterval is the number of processed bytes between emissions.
	DefaultInterval int64 = 200_000
)

const (
	filledSegment = "█"
	emptySegment  = "░"
)

// Percent returns floor(100*processed/total), clamped to [0, 100].
// A zero total yields 0.
func Percent(processed, total int64) int {
	if total <= 0 || processed <= 0 {
		return 0
	}
	if processed >= total {
		return 100
	}
	return int(processed * 100 / total)
}

// Bar renders percent as a bracketed bar of Segments cells, one filled
// cell per five percent.
func Bar(percent int) string {
	percent = min(max(percent, 0), 100)
	filled := percent / 5
	return "[" + strings.Repeat(filledSegment, filled) + strings.Repeat(emptySegment, Segments-filled) + "]"
}

// Update is one emitted progress observation.
type Update struct {
	Percent   int
	Processed int64
	Total     int64
}

// Text renders the status line shown to the user.
func (u Update) Text() string {
	return fmt.Sprintf("🔄 Processing…\n%s %d%%", Bar(u.Percent), u.Percent)
}

// Emitter delivers an update, typically by editing a status message.
// Returned errors are logged and otherwise ignored.
type Emitter func(ctx context.Context, u Update) error

// Option configures a Reporter.
type Option func(*Reporter)

// WithInterval sets the byte interval between emissions.
func WithInterval(bytes int64) Option {
	return func(r *Reporter) {
		if bytes > 0 {
			r.interval = bytes
		}
	}
}

// WithBaseline marks percent as already shown, so it is not re-emitted.
func WithBaseline(percent int) Option {
	return func(r *Reporter) { r.last = percent }
}

// WithLogger sets the logger used for swallowed emission failures.
func WithLogger(logger *log.Logger) Option {
	return func(r *Reporter) { r.logger = logger }
}

// Reporter turns per-line byte observations into throttled updates.
//
// An update is emitted when processed bytes cross into a new interval
// bucket, or when processing completes. Percent values handed to the
// emitter are strictly increasing, so the sequence seen by the user is
// monotonic and ends at 100. Emission is best-effort and never fails the
// caller.
type Reporter struct {
	emit     Emitter
	interval int64
	logger   *log.Logger

	mu     sync.Mutex
	last   int
	bucket int64
	sent   int
	failed int
}

// NewReporter creates a reporter that emits through emit.
func NewReporter(emit Emitter, opts ...Option) *Reporter {
	r := &Reporter{
		emit:     emit,
		interval: DefaultInterval,
		last:     -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe implements merge.ProgressObserver.
func (r *Reporter) Observe(ctx context.Context, processed, total int64) {
	r.mu.Lock()
	done := total <= 0 || processed >= total
	bucket := processed / r.interval
	if !done && bucket <= r.bucket {
		r.mu.Unlock()
		return
	}
	r.bucket = bucket

	p := Percent(processed, total)
	if done {
		p = 100
	}
	if p <= r.last {
		r.mu.Unlock()
		return
	}
	r.last = p
	r.mu.Unlock()

	u := Update{Percent: p, Processed: processed, Total: total}
	if err := r.emit(ctx, u); err != nil {
		r.mu.Lock()
		r.failed++
		r.mu.Unlock()
		r.logger.Debug("progress update dropped", map[string]any{
			"percent": p,
			"error":   err.Error(),
		})
		return
	}

	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
}

// Last returns the most recent percent handed to the emitter, or -1.
func (r *Reporter) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Stats returns how many emissions succeeded and failed.
func (r *Reporter) Stats() (sent, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent, r.failed
}
