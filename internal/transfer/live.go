// Package transfer routes drops and downloads to the right backend operation,
// runs each batch sequentially, and tracks the progress events backends push
// while bytes move.
//
// Live records are passive: backends report progress on the event bus and
// the records only mirror it. Nothing here starts or cancels a transfer.
package transfer

import (
	"sort"
	"sync"
	"time"

	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/models"
)

// Timer is the part of *time.Timer the removal schedule needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Tests substitute a manual clock.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type liveRecord struct {
	rec   models.TransferRecord
	seq   uint64
	timer Timer
}

// LiveHooks are called outside the map lock. Both are optional.
type LiveHooks struct {
	// OnChange sees every merged record, and the final one again with
	// removed set when it expires.
	OnChange func(rec models.TransferRecord, removed bool)
	// OnComplete runs once per record reaching complete.
	OnComplete func(rec models.TransferRecord)
}

// Live is the map of in-flight transfers keyed by transfer ID.
type Live struct {
	mu      sync.Mutex
	records map[string]*liveRecord
	seq     uint64

	afterFunc AfterFunc
	delay     time.Duration
	hooks     LiveHooks
}

// NewLive creates an empty live map. Completed records are removed after delay.
func NewLive(afterFunc AfterFunc, delay time.Duration, hooks LiveHooks) *Live {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	if delay <= 0 {
		delay = constants.TransferRemovalDelay
	}
	return &Live{
		records:    make(map[string]*liveRecord),
		afterFunc: afterFunc,
		delay:     delay,
		hooks:     hooks,
	}
}

// Observe merges one progress event. Unknown IDs get a fresh record, so an
// event arriving after its record was removed starts over. No ordering is
// assumed across IDs.
func (l *Live) Observe(ev *events.TransferProgressEvent) {
	if ev == nil || ev.TransferID == "" {
		return
	}
	status := models.ParseTransferStatus(ev.Status)

	l.mu.Lock()
	r, ok := l.records[ev.TransferID]
	if !ok {
		r = &liveRecord{rec: models.TransferRecord{TransferID: ev.TransferID}}
		l.records[ev.TransferID] = r
	}
	wasComplete := ok && r.rec.Status == models.TransferComplete

	l.seq++
	r.seq = l.seq
	if ev.Filename != "" {
		r.rec.Filename = ev.Filename
	}
	r.rec.BytesDone = ev.Progress
	r.rec.BytesTotal = ev.Total
	r.rec.Status = status
	r.rec.UpdatedAt = ev.Timestamp()
	if r.rec.UpdatedAt.IsZero() {
		r.rec.UpdatedAt = time.Now()
	}

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if status == models.TransferComplete {
		id, seq := ev.TransferID, r.seq
		r.timer = l.afterFunc(l.delay, func() { l.expire(id, seq) })
	}
	snapshot := r.rec
	l.mu.Unlock()

	if l.hooks.OnChange != nil {
		l.hooks.OnChange(snapshot, false)
	}
	if status == models.TransferComplete && !wasComplete && l.hooks.OnComplete != nil {
		l.hooks.OnComplete(snapshot)
	}
}

// expire removes id unless it was updated after the removal was scheduled.
func (l *Live) expire(id string, seq uint64) {
	l.mu.Lock()
	r, ok := l.records[id]
	if !ok || r.seq != seq {
		l.mu.Unlock()
		return
	}
	delete(l.records, id)
	rec := r.rec
	l.mu.Unlock()

	if l.hooks.OnChange != nil {
		l.hooks.OnChange(rec, true)
	}
}

// Get returns a copy of one record.
func (l *Live) Get(id string) (models.TransferRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok {
		return models.TransferRecord{}, false
	}
	return r.rec, true
}

// Snapshot returns all records, oldest update first.
func (l *Live) Snapshot() []models.TransferRecord {
	l.mu.Lock()
	out := make([]models.TransferRecord, 0, len(l.records))
	seqs := make(map[string]uint64, len(l.records))
	for id, r := range l.records {
		out = append(out, r.rec)
		seqs[id] = r.seq
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return seqs[out[i].TransferID] < seqs[out[j].TransferID]
	})
	return out
}

// Len returns the number of live records.
func (l *Live) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
