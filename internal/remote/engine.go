// Package remote keeps the state of the remote pane: one listing of the
// current location plus the address needed to get back to it. FTP servers
// and cloud drives navigate differently, so each has its own navigator
// behind a common Engine.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/cloud/storage"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/logging"
	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/tree"
)

// ErrNotFolder is returned when navigating into a file.
var ErrNotFolder = errors.New("not a folder")

// Crumb is one level of the navigation address.
type Crumb struct {
	ID   string
	Name string
}

// listing is a completed fetch. commit moves the navigator to the listed
// location and is only called when the fetch is still current.
type listing struct {
	entries []models.Entry
	commit  func()
}

type navigator interface {
	kind() models.ConnectionKind
	// location is the path (FTP) or folder ID (cloud) that uploads and
	// new folders target.
	location() string
	crumbs() []Crumb

	open(ctx context.Context) (*listing, error)
	into(ctx context.Context, entry models.Entry) (*listing, error)
	// up returns a nil listing when already at the top.
	up(ctx context.Context) (*listing, error)
	relist(ctx context.Context) (*listing, error)

	rename(ctx context.Context, entry models.Entry, newName string) error
	remove(ctx context.Context, entry models.Entry) error
	copyAs(ctx context.Context, entry models.Entry, newName string) error
	download(ctx context.Context, entry models.Entry, localDir string) (string, error)
	downloadFolder(ctx context.Context, entry models.Entry, localDir string) (string, error)
	makeDir(ctx context.Context, name string) error
}

// Engine is the remote pane state for one connection.
type Engine struct {
	nav    navigator
	bus    *events.EventBus
	logger *logging.Logger

	mu      sync.Mutex
	entries []models.Entry
	loading bool
	err     string
	gen     uint64
}

// NewFTP creates an engine browsing an FTP session.
func NewFTP(client backend.FTP, bus *events.EventBus) *Engine {
	return newEngine(newFTPNavigator(client), bus)
}

// NewCloud creates an engine browsing a cloud drive, starting at its root.
func NewCloud(client backend.Cloud, bus *events.EventBus) *Engine {
	return newEngine(newCloudNavigator(client), bus)
}

func newEngine(nav navigator, bus *events.EventBus) *Engine {
	return &Engine{
		nav:    nav,
		bus:    bus,
		logger: logging.NewLogger("remote-" + string(nav.kind())),
	}
}

// Open lists the starting location: the server's working directory for FTP,
// the drive root for cloud accounts.
func (e *Engine) Open(ctx context.Context) error {
	return e.load(ctx, "open", e.nav.open)
}

// NavigateInto lists a folder of the current listing and makes it the
// current location.
func (e *Engine) NavigateInto(ctx context.Context, entry models.Entry) error {
	if !entry.IsDir {
		return fmt.Errorf("%w: %s", ErrNotFolder, entry.Name)
	}
	return e.load(ctx, "navigate", func(ctx context.Context) (*listing, error) {
		return e.nav.into(ctx, entry)
	})
}

// GoUp moves to the parent location. At the top it does nothing.
func (e *Engine) GoUp(ctx context.Context) error {
	return e.load(ctx, "up", e.nav.up)
}

// Refresh re-lists the current location.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.load(ctx, "refresh", e.nav.relist)
}

// load runs fetch outside the lock and applies the result only if no newer
// load started meanwhile. Failures keep the previous listing and address.
func (e *Engine) load(ctx context.Context, op string, fetch func(context.Context) (*listing, error)) error {
	e.mu.Lock()
	e.gen++
	token := e.gen
	e.loading = true
	e.mu.Unlock()
	e.publish()

	start := time.Now()
	l, err := fetch(ctx)

	e.mu.Lock()
	if token != e.gen {
		e.mu.Unlock()
		e.logger.Debug().Str("op", op).Uint64("token", token).Msg("discarding stale listing")
		return nil
	}
	e.loading = false
	if err != nil {
		e.err = fmt.Sprintf("Failed to list: %v", err)
		e.mu.Unlock()
		e.logger.Error().Err(err).Str("op", op).Msg("listing failed")
		e.publish()
		return err
	}
	if l != nil {
		l.commit()
		e.entries = l.entries
	}
	e.err = ""
	e.mu.Unlock()

	e.logger.Debug().Str("op", op).Str("location", e.nav.location()).Dur("took", time.Since(start)).Msg("listed")
	e.publish()
	return nil
}

// Rename renames entry in place.
func (e *Engine) Rename(ctx context.Context, entry models.Entry, newName string) error {
	if err := storage.ValidateName(newName); err != nil {
		return err
	}
	return e.mutate(ctx, "rename", entry, func() error {
		return e.nav.rename(ctx, entry, newName)
	})
}

// Delete removes a file or folder. FTP folders must be empty.
func (e *Engine) Delete(ctx context.Context, entry models.Entry) error {
	return e.mutate(ctx, "delete", entry, func() error {
		return e.nav.remove(ctx, entry)
	})
}

// CopyAs duplicates entry next to itself under newName.
func (e *Engine) CopyAs(ctx context.Context, entry models.Entry, newName string) error {
	if err := storage.ValidateName(newName); err != nil {
		return err
	}
	return e.mutate(ctx, "copy", entry, func() error {
		return e.nav.copyAs(ctx, entry, newName)
	})
}

// MakeDir creates a folder in the current location.
func (e *Engine) MakeDir(ctx context.Context, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}
	return e.mutate(ctx, "mkdir", models.Entry{Name: name, IsDir: true}, func() error {
		return e.nav.makeDir(ctx, name)
	})
}

// Download copies one remote file (or, for folders, the whole folder) into
// localDir and returns the backend's result message.
func (e *Engine) Download(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	if entry.IsDir {
		return e.DownloadFolder(ctx, entry, localDir)
	}
	var msg string
	err := e.mutate(ctx, "download", entry, func() error {
		var err error
		msg, err = e.nav.download(ctx, entry, localDir)
		return err
	})
	return msg, err
}

// DownloadFolder copies a remote folder recursively into localDir.
func (e *Engine) DownloadFolder(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	var msg string
	err := e.mutate(ctx, "download-folder", entry, func() error {
		var err error
		msg, err = e.nav.downloadFolder(ctx, entry, localDir)
		return err
	})
	return msg, err
}

// mutate runs one per-entry operation and then re-lists the current
// location whatever the outcome. Operations rejected before reaching the
// backend change nothing and skip the re-list.
func (e *Engine) mutate(ctx context.Context, op string, entry models.Entry, fn func() error) error {
	err := fn()
	switch {
	case err == nil:
		e.logger.Info().Str("op", op).Str("name", entry.Name).Msg("done")
	case errors.Is(err, backend.ErrNotSupported):
		e.logger.Warn().Str("op", op).Str("name", entry.Name).Msg("not supported for this provider")
		return err
	case backend.IsLocalFailure(err):
		e.logger.Warn().Err(err).Str("op", op).Str("name", entry.Name).Msg("rejected")
		return err
	default:
		e.logger.Error().Err(err).Str("op", op).Str("name", entry.Name).Msg("failed")
	}

	// the operation error wins; a failed re-list shows up in Err
	_ = e.Refresh(ctx)
	return err
}

func (e *Engine) publish() {
	e.mu.Lock()
	ev := &events.RemoteChangedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventRemoteChanged, Time: time.Now()},
		Kind:      e.nav.kind(),
		Location:  displayPath(e.nav.crumbs()),
		Entries:   len(e.entries),
		Loading:   e.loading,
		Error:     e.err,
	}
	e.mu.Unlock()
	e.bus.Publish(ev)
}

// Kind reports whether this is an FTP or a cloud engine.
func (e *Engine) Kind() models.ConnectionKind {
	return e.nav.kind()
}

// Location returns the current path (FTP) or folder ID (cloud).
func (e *Engine) Location() string {
	return e.nav.location()
}

// Breadcrumbs returns the navigation address from the top down.
func (e *Engine) Breadcrumbs() []Crumb {
	return e.nav.crumbs()
}

// DisplayPath renders the address as a slash separated path.
func (e *Engine) DisplayPath() string {
	return displayPath(e.nav.crumbs())
}

// Entries returns a copy of the current listing.
func (e *Engine) Entries() []models.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Entry(nil), e.entries...)
}

// Entry finds a current entry by name.
func (e *Engine) Entry(name string) (models.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, en := range e.entries {
		if en.Name == name {
			return en, true
		}
	}
	return models.Entry{}, false
}

// Loading reports whether a listing is in flight.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// Err returns the message of the last failed listing, or "".
func (e *Engine) Err() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Filter returns the current entries whose names match query, in order.
func (e *Engine) Filter(query string) []models.Entry {
	return tree.FilterEntries(e.Entries(), query)
}

func displayPath(crumbs []Crumb) string {
	if len(crumbs) <= 1 {
		return "/"
	}
	p := ""
	for _, c := range crumbs[1:] {
		p += "/" + c.Name
	}
	return p
}
