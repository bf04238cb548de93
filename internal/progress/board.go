package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/models"
)

// Display renders live transfer records.
type Display interface {
	// Observe receives every merged record; removed is set once when the
	// record leaves the live map.
	Observe(rec models.TransferRecord, removed bool)
	// Writer prints above the progress area.
	Writer() io.Writer
	Close()
}

// NewDisplay picks the mpb board on a terminal and the single summary bar otherwise.
func NewDisplay(expected int) Display {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return NewBoard(os.Stderr)
	}
	return NewSummary(os.Stderr, expected)
}

// Follow feeds every transfer record event on bus into d until ctx is done.
// Events queued by then are still delivered; the returned channel closes
// when the loop has exited.
func Follow(ctx context.Context, bus *events.EventBus, d Display) <-chan struct{} {
	sub := bus.Subscribe(events.EventTransferRecord)
	done := make(chan struct{})
	deliver := func(ev events.Event) {
		if r, ok := ev.(*events.TransferRecordEvent); ok {
			d.Observe(r.Record, r.Removed)
		}
	}
	go func() {
		defer close(done)
		defer bus.Unsubscribe(events.EventTransferRecord, sub)
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				deliver(ev)
			case <-ctx.Done():
				for {
					select {
					case ev, ok := <-sub:
						if !ok {
							return
						}
						deliver(ev)
					default:
						return
					}
				}
			}
		}
	}()
	return done
}

// Board shows one mpb bar per live transfer record.
type Board struct {
	progress *mpb.Progress
	mu       sync.Mutex
	bars     map[string]*boardBar
}

type boardBar struct {
	bar      *mpb.Bar
	last     uint64
	lastTime time.Time
	done     bool
}

// NewBoard creates a board rendering to w.
func NewBoard(w io.Writer) *Board {
	return &Board{
		progress: mpb.New(
			mpb.WithOutput(w),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		),
		bars: make(map[string]*boardBar),
	}
}

// Observe creates, advances or drops the bar for rec.TransferID.
func (b *Board) Observe(rec models.TransferRecord, removed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bb, ok := b.bars[rec.TransferID]
	if removed {
		if ok && !bb.done {
			bb.bar.Abort(true)
		}
		delete(b.bars, rec.TransferID)
		return
	}
	if !ok {
		bb = &boardBar{lastTime: time.Now(), bar: b.newBar(rec)}
		b.bars[rec.TransferID] = bb
	}
	if bb.done {
		return
	}

	if rec.BytesTotal > 0 {
		bb.bar.SetTotal(int64(rec.BytesTotal), false)
	}
	now := time.Now()
	if rec.BytesDone >= bb.last {
		bb.bar.EwmaIncrBy(int(rec.BytesDone-bb.last), now.Sub(bb.lastTime))
	} else {
		bb.bar.SetCurrent(int64(rec.BytesDone))
	}
	bb.last = rec.BytesDone
	bb.lastTime = now

	switch rec.Status {
	case models.TransferComplete:
		bb.done = true
		bb.bar.SetTotal(int64(rec.BytesDone), true)
		fmt.Fprintf(b.progress, "✓ %s (%.1f MiB)\n", rec.Filename, float64(rec.BytesDone)/(1024*1024))
	case models.TransferError:
		bb.done = true
		bb.bar.Abort(false)
		fmt.Fprintf(b.progress, "✗ %s\n", rec.Filename)
	}
}

func (b *Board) newBar(rec models.TransferRecord) *mpb.Bar {
	return b.progress.New(int64(rec.BytesTotal),
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("%-8s %s", Direction(rec.TransferID), rec.Filename), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
}

// Direction names the kind of transfer from its ID prefix.
func Direction(transferID string) string {
	prefix, _, _ := strings.Cut(transferID, "-")
	switch prefix {
	case constants.TransferPrefixDownload:
		return "download"
	case constants.TransferPrefixUpload:
		return "upload"
	case constants.TransferPrefixCopy:
		return "copy"
	}
	return "transfer"
}

// Writer prints above the bars.
func (b *Board) Writer() io.Writer {
	return b.progress
}

// Close aborts bars that never finished and waits for the render loop.
func (b *Board) Close() {
	b.mu.Lock()
	for _, bb := range b.bars {
		if !bb.done {
			bb.done = true
			bb.bar.Abort(true)
		}
	}
	b.mu.Unlock()
	b.progress.Wait()
}
