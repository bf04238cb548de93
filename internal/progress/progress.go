package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/rescale/duopane/internal/models"
)

// Summary is the non-terminal display: one bar counting finished transfers
// plus a line per outcome.
type Summary struct {
	out      io.Writer
	bar      *progressbar.ProgressBar
	mu       sync.Mutex
	finished map[string]bool
}

// NewSummary creates a summary bar for expected transfers (0 = unknown).
func NewSummary(out io.Writer, expected int) *Summary {
	max := expected
	if max <= 0 {
		max = -1
	}
	return &Summary{
		out: out,
		bar: progressbar.NewOptions(max,
			progressbar.OptionSetDescription("transfers"),
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(out, "\n")
			}),
			progressbar.OptionSpinnerType(14),
		),
		finished: make(map[string]bool),
	}
}

// Observe counts each transfer once when its record reaches a terminal status.
func (s *Summary) Observe(rec models.TransferRecord, removed bool) {
	if removed || (rec.Status != models.TransferComplete && rec.Status != models.TransferError) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished[rec.TransferID] {
		return
	}
	s.finished[rec.TransferID] = true
	s.bar.Describe(fmt.Sprintf("%s %s %s", Direction(rec.TransferID), rec.Status, rec.Filename))
	_ = s.bar.Add(1)
}

// Writer returns the underlying output.
func (s *Summary) Writer() io.Writer {
	return s.out
}

// Close finishes the bar.
func (s *Summary) Close() {
	_ = s.bar.Finish()
}
