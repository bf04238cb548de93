// Package progress turns byte counts into pushed transfer progress events and
// renders those events in the terminal.
package progress

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/events"
)

// NewTransferID returns "<prefix>-<uuid>", e.g. "dl-7c9e...".
func NewTransferID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Tracker counts bytes for one transfer and publishes throttled
// TransferProgressEvents. It is an io.Writer so it can sit behind
// io.TeeReader or io.MultiWriter.
type Tracker struct {
	bus      *events.EventBus
	id       string
	filename string
	status   string
	total    atomic.Uint64
	done     atomic.Uint64

	mu          sync.Mutex
	lastPublish time.Time
	finished    bool
}

// NewTracker creates a tracker and publishes the initial 0-byte event.
func NewTracker(bus *events.EventBus, prefix, filename string, total uint64, status string) *Tracker {
	t := &Tracker{
		bus:      bus,
		id:       NewTransferID(prefix),
		filename: filename,
		status:   status,
	}
	t.total.Store(total)
	t.publish(status)
	return t
}

// ID returns the transfer ID carried by every event.
func (t *Tracker) ID() string {
	return t.id
}

// Done returns the bytes counted so far.
func (t *Tracker) Done() uint64 {
	return t.done.Load()
}

// SetTotal updates the expected size once it becomes known.
func (t *Tracker) SetTotal(total uint64) {
	t.total.Store(total)
}

// Write counts len(p) bytes.
func (t *Tracker) Write(p []byte) (int, error) {
	t.Add(uint64(len(p)))
	return len(p), nil
}

// Add counts n more bytes.
func (t *Tracker) Add(n uint64) {
	t.done.Add(n)
	t.maybePublish()
}

// Set moves the counter to an absolute position (SDK progress callbacks report totals).
func (t *Tracker) Set(n uint64) {
	t.done.Store(n)
	t.maybePublish()
}

// Reader wraps r so every byte read is counted.
func (t *Tracker) Reader(r io.Reader) io.Reader {
	return io.TeeReader(r, t)
}

// Complete publishes the terminal "complete" event.
func (t *Tracker) Complete() {
	t.finish(constants.StatusComplete)
}

// Fail publishes the terminal "error" event.
func (t *Tracker) Fail() {
	t.finish(constants.StatusError)
}

func (t *Tracker) finish(status string) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.mu.Unlock()

	if status == constants.StatusComplete && t.total.Load() < t.done.Load() {
		t.total.Store(t.done.Load())
	}
	t.publish(status)
}

func (t *Tracker) maybePublish() {
	t.mu.Lock()
	if t.finished || time.Since(t.lastPublish) < constants.ProgressPublishInterval {
		t.mu.Unlock()
		return
	}
	t.lastPublish = time.Now()
	t.mu.Unlock()
	t.publish(t.status)
}

func (t *Tracker) publish(status string) {
	t.bus.PublishTransferProgress(t.id, t.filename, t.done.Load(), t.total.Load(), status)
}

// ContextReader stops reading with ctx.Err() once ctx is cancelled.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
