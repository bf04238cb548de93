package transfer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/diskspace"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/logging"
	"github.com/rescale/duopane/internal/models"
)

// DropContext describes where a batch lands. The composition builds it from
// the active connection and the current location of each pane.
type DropContext struct {
	Target models.Pane
	Kind   models.ConnectionKind

	LocalDir string
	// RemoteDir is the FTP directory path or the cloud folder ID.
	RemoteDir string

	FTP   backend.FTP
	Cloud backend.Cloud
}

// Route picks the operation for a file dropped with this context: onto the
// remote pane with a live connection it is an upload, anything else is a
// local copy into LocalDir.
func (dc DropContext) Route() models.Operation {
	if dc.Target == models.PaneRemote {
		switch dc.Kind {
		case models.ConnectionFTP:
			return models.OpUploadFTP
		case models.ConnectionCloud:
			return models.OpUploadCloud
		}
	}
	return models.OpLocalCopy
}

// Refresher re-lists the listed panes after a batch.
type Refresher func(ctx context.Context, panes ...models.Pane)

// Notifier bumps the refresh tokens of the listed panes without re-listing
// them. It runs on the progress-consumer goroutine and must not block.
type Notifier func(panes ...models.Pane)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAfterFunc replaces time.AfterFunc for deferred record removal.
func WithAfterFunc(fn AfterFunc) Option {
	return func(o *Orchestrator) { o.afterFunc = fn }
}

// WithRemovalDelay overrides how long completed records stay visible.
func WithRemovalDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.delay = d }
}

// WithRefresher sets the hook called once at the end of every batch.
func WithRefresher(fn Refresher) Option {
	return func(o *Orchestrator) { o.refresh = fn }
}

// WithNotifier sets the hook called when a live transfer completes.
func WithNotifier(fn Notifier) Option {
	return func(o *Orchestrator) { o.notify = fn }
}

// WithSpaceCheck replaces the free-space check run before file downloads.
// nil disables it.
func WithSpaceCheck(fn func(dir string, need uint64) error) Option {
	return func(o *Orchestrator) { o.spaceCheck = fn }
}

// WithClock replaces time.Now for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator dispatches drop and download batches and keeps the
// session's transfer log.
type Orchestrator struct {
	local  backend.LocalFS
	bus    *events.EventBus
	logger *logging.Logger

	afterFunc  AfterFunc
	delay      time.Duration
	refresh    Refresher
	notify     Notifier
	now        func() time.Time
	spaceCheck func(dir string, need uint64) error

	live *Live

	mu  sync.Mutex
	log []models.TransferLogEntry
}

// New creates an orchestrator copying local files through local.
func New(local backend.LocalFS, bus *events.EventBus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		local:  local,
		bus:    bus,
		logger: logging.NewLogger("transfer"),
		delay:  constants.TransferRemovalDelay,
		now:    time.Now,

		spaceCheck: diskspace.Check,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.live = NewLive(o.afterFunc, o.delay, LiveHooks{
		OnChange:   o.changed,
		OnComplete: o.completed,
	})
	return o
}

// DispatchDrop handles files dropped onto a pane. Files run one after
// another in drop order; a failure is logged and the batch continues. The
// affected pane is refreshed once at the end whatever the outcomes.
func (o *Orchestrator) DispatchDrop(ctx context.Context, files []string, dc DropContext) []models.TransferLogEntry {
	op := dc.Route()
	o.logger.Info().Str("op", string(op)).Int("files", len(files)).Msg("dispatching drop")

	batch := make([]models.TransferLogEntry, 0, len(files))
	for _, f := range files {
		msg, err := o.dropOne(ctx, op, f, dc)
		batch = append(batch, o.append(op, filepath.Base(f), msg, err))
	}

	if op == models.OpLocalCopy {
		o.refreshPanes(ctx, models.PaneLocal)
	} else {
		o.refreshPanes(ctx, models.PaneRemote)
	}
	return batch
}

func (o *Orchestrator) dropOne(ctx context.Context, op models.Operation, file string, dc DropContext) (string, error) {
	switch op {
	case models.OpUploadFTP:
		if dc.FTP == nil {
			return "", backend.ErrNoConnection
		}
		return dc.FTP.Upload(ctx, file, dc.RemoteDir)
	case models.OpUploadCloud:
		if dc.Cloud == nil {
			return "", backend.ErrNoConnection
		}
		parent := dc.RemoteDir
		if parent == "" {
			parent = backend.RootFolderID
		}
		return dc.Cloud.Upload(ctx, file, parent)
	default:
		if o.local == nil {
			return "", fmt.Errorf("no local file system configured")
		}
		return o.local.CopyToLocal(ctx, file, dc.LocalDir)
	}
}

// DispatchDownload downloads remote entries into dc.LocalDir, with the same
// sequential, log-every-outcome and refresh-at-end rules as a drop.
func (o *Orchestrator) DispatchDownload(ctx context.Context, entries []models.Entry, dc DropContext) []models.TransferLogEntry {
	o.logger.Info().Str("kind", string(dc.Kind)).Int("entries", len(entries)).Msg("dispatching download")

	batch := make([]models.TransferLogEntry, 0, len(entries))
	for _, e := range entries {
		op, msg, err := o.downloadOne(ctx, e, dc)
		batch = append(batch, o.append(op, e.Name, msg, err))
	}
	o.refreshPanes(ctx, models.PaneLocal)
	return batch
}

func (o *Orchestrator) downloadOne(ctx context.Context, e models.Entry, dc DropContext) (models.Operation, string, error) {
	switch {
	case dc.Kind == models.ConnectionFTP && dc.FTP != nil:
		if e.IsDir {
			msg, err := dc.FTP.DownloadFolder(ctx, e.Path, dc.LocalDir)
			return models.OpDownloadFolder, msg, err
		}
		if err := o.checkSpace(e, dc.LocalDir); err != nil {
			return models.OpDownloadFTP, "", err
		}
		msg, err := dc.FTP.Download(ctx, e.Path, dc.LocalDir)
		return models.OpDownloadFTP, msg, err

	case dc.Kind == models.ConnectionCloud && dc.Cloud != nil:
		op := models.OpDownloadCloud
		if e.IsDir {
			op = models.OpDownloadFolder
			if !dc.Cloud.Capabilities().DownloadFolder {
				return op, "", fmt.Errorf("download folder %s: %w", e.Name, backend.ErrNotSupported)
			}
		}
		if e.ID == "" {
			return op, "", fmt.Errorf("download %s: %w", e.Name, backend.ErrMissingID)
		}
		if e.IsDir {
			msg, err := dc.Cloud.DownloadFolder(ctx, e, dc.LocalDir)
			return op, msg, err
		}
		if err := o.checkSpace(e, dc.LocalDir); err != nil {
			return op, "", err
		}
		msg, err := dc.Cloud.Download(ctx, e, dc.LocalDir)
		return op, msg, err
	}
	return models.OpDownloadCloud, "", fmt.Errorf("download %s: %w", e.Name, backend.ErrNoConnection)
}

// checkSpace fails a file download early when its known size does not fit.
func (o *Orchestrator) checkSpace(e models.Entry, dir string) error {
	if e.Size == nil || o.spaceCheck == nil {
		return nil
	}
	if err := o.spaceCheck(dir, *e.Size); err != nil {
		return fmt.Errorf("download %s: %w", e.Name, err)
	}
	return nil
}

// append records one outcome in the log and announces it.
func (o *Orchestrator) append(op models.Operation, name, msg string, err error) models.TransferLogEntry {
	entry := models.TransferLogEntry{
		Time:      o.now(),
		Operation: op,
		Filename:  name,
		Message:   msg,
		Err:       err,
	}
	switch {
	case err == nil:
		o.logger.Info().Str("op", string(op)).Str("file", name).Msg(msg)
	case errors.Is(err, backend.ErrNotSupported):
		entry.Message = fmt.Sprintf("%s: not supported for this provider", name)
		o.logger.Warn().Str("op", string(op)).Str("file", name).Msg("not supported for this provider")
	default:
		entry.Message = fmt.Sprintf("%s failed: %v", name, err)
		o.logger.Error().Err(err).Str("op", string(op)).Str("file", name).Msg("transfer failed")
	}

	o.mu.Lock()
	o.log = append(o.log, entry)
	o.mu.Unlock()

	o.bus.Publish(&events.TransferLoggedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferLogged, Time: entry.Time},
		Entry:     entry,
	})
	return entry
}

// OnProgressEvent merges one pushed progress event into the live records.
func (o *Orchestrator) OnProgressEvent(ev *events.TransferProgressEvent) {
	o.live.Observe(ev)
}

func (o *Orchestrator) completed(rec models.TransferRecord) {
	panes := PanesFor(rec.TransferID)
	o.logger.Debug().Str("id", rec.TransferID).Str("file", rec.Filename).Msg("transfer complete")
	if o.notify != nil {
		o.notify(panes...)
	}
}

func (o *Orchestrator) changed(rec models.TransferRecord, removed bool) {
	o.bus.Publish(&events.TransferRecordEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferRecord, Time: o.now()},
		Record:    rec,
		Removed:   removed,
	})
}

// PanesFor maps a transfer ID to the pane whose listing it changes:
// downloads and copies land locally, uploads remotely. IDs without a known
// prefix affect both.
func PanesFor(transferID string) []models.Pane {
	prefix, _, _ := strings.Cut(transferID, "-")
	switch prefix {
	case constants.TransferPrefixDownload, constants.TransferPrefixCopy:
		return []models.Pane{models.PaneLocal}
	case constants.TransferPrefixUpload:
		return []models.Pane{models.PaneRemote}
	}
	return []models.Pane{models.PaneLocal, models.PaneRemote}
}

func (o *Orchestrator) refreshPanes(ctx context.Context, panes ...models.Pane) {
	if o.refresh != nil {
		o.refresh(ctx, panes...)
	}
}

// Start subscribes to transfer progress on the bus and merges the events
// into the live records on its own goroutine. When ctx is done the events
// already queued are merged before the returned channel closes.
func (o *Orchestrator) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if o.bus == nil {
		go func() {
			defer close(done)
			<-ctx.Done()
		}()
		return done
	}
	ch := o.bus.Subscribe(events.EventTransferProgress)

	go func() {
		defer close(done)
		defer o.bus.Unsubscribe(events.EventTransferProgress, ch)
		for {
			select {
			case <-ctx.Done():
				o.drain(ch)
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				o.consume(ev)
			}
		}
	}()
	return done
}

// Run is Start that blocks until ctx is done or the bus closes.
func (o *Orchestrator) Run(ctx context.Context) {
	<-o.Start(ctx)
}

func (o *Orchestrator) drain(ch <-chan events.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			o.consume(ev)
		default:
			return
		}
	}
}

func (o *Orchestrator) consume(ev events.Event) {
	if p, ok := ev.(*events.TransferProgressEvent); ok {
		o.OnProgressEvent(p)
	}
}

// Records returns the live transfers.
func (o *Orchestrator) Records() []models.TransferRecord {
	return o.live.Snapshot()
}

// Record returns one live transfer.
func (o *Orchestrator) Record(id string) (models.TransferRecord, bool) {
	return o.live.Get(id)
}

// Log returns a copy of the transfer log, oldest first.
func (o *Orchestrator) Log() []models.TransferLogEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.TransferLogEntry(nil), o.log...)
}
