// Package progress draws a terminal progress bar over the tables of a run.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker counts finished tables and how many of them were not OK.
// Safe for use from concurrent table workers.
type Tracker struct {
	bar     *progressbar.ProgressBar
	out     io.Writer
	total   int
	done    atomic.Int64
	failed  atomic.Int64
	started time.Time
}

// New creates a tracker drawing to stderr so stdout stays free for reports.
func New() *Tracker {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a tracker drawing to w.
func NewWithWriter(w io.Writer) *Tracker {
	return &Tracker{out: w, started: time.Now()}
}

// Start sizes the bar for total tables. Call it once before TableDone.
func (t *Tracker) Start(total int) {
	t.total = total
	t.bar = progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(t.out),
		progressbar.OptionSetDescription("Verifying"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetItsString("tables"),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// TableDone records one finished table.
func (t *Tracker) TableDone(ok bool) {
	t.done.Add(1)
	if !ok {
		n := t.failed.Add(1)
		if t.bar != nil {
			t.bar.Describe(fmt.Sprintf("Verifying (%d not OK)", n))
		}
	}
	if t.bar != nil {
		_ = t.bar.Add(1)
	}
}

// Done returns the number of finished tables.
func (t *Tracker) Done() int64 {
	return t.done.Load()
}

// Failed returns the number of finished tables that were not OK.
func (t *Tracker) Failed() int64 {
	return t.failed.Load()
}

// Finish completes the bar and prints a one-line tally.
func (t *Tracker) Finish() {
	if t.bar != nil {
		_ = t.bar.Finish()
	}
	fmt.Fprintln(t.out)
	fmt.Fprintf(t.out, "Verified %d/%d tables in %s, %d not OK\n",
		t.done.Load(), t.total, time.Since(t.started).Round(time.Millisecond), t.failed.Load())
}
