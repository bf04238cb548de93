// Package panes composes the local tree, the active remote engine and the
// transfer orchestrator into the dual-pane model front ends drive.
package panes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/config"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/icons"
	"github.com/rescale/duopane/internal/logging"
	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/remote"
	"github.com/rescale/duopane/internal/transfer"
	"github.com/rescale/duopane/internal/tree"
)

var (
	// ErrConnecting is returned when Connect or Disconnect is called while a
	// connection attempt is in flight.
	ErrConnecting = errors.New("a connection attempt is already in progress")

	// ErrInvalidTransition is returned for a state change the machine does not allow.
	ErrInvalidTransition = errors.New("invalid connection state transition")
)

// Dialer opens remote sessions.
type Dialer interface {
	DialFTP(ctx context.Context, desc models.FTPDescriptor) (backend.FTP, error)
	DialCloud(ctx context.Context, desc models.CloudDescriptor) (backend.Cloud, error)
}

// ConfigSaver persists the whole configuration.
type ConfigSaver interface {
	Save(cfg *config.AppConfig) error
}

// Options configures a Composition.
type Options struct {
	Local  backend.LocalFS
	Dialer Dialer
	Bus    *events.EventBus

	// Config is the loaded configuration; Store (optional) saves it on change.
	Config *config.AppConfig
	Store  ConfigSaver

	// IconSource backs both panes' icon caches; nil uses the MIME table.
	IconSource icons.Source

	TransferOptions []transfer.Option
}

// Composition is the dual-pane model: a local tree on one side, at most one
// remote connection on the other.
type Composition struct {
	localFS backend.LocalFS
	local   *tree.Engine
	dialer  Dialer
	orch    *transfer.Orchestrator
	bus     *events.EventBus
	logger  *logging.Logger
	store   ConfigSaver
	iconSrc icons.Source

	cfgMu sync.Mutex
	cfg   *config.AppConfig

	mu      sync.Mutex
	state   models.ConnectionState
	kind    models.ConnectionKind
	lastErr string
	remote  *remote.Engine
	ftp     backend.FTP
	cloud   backend.Cloud
	tokens  map[models.Pane]uint64
	icons   map[models.Pane]*icons.Cache
}

// New creates a disconnected composition.
func New(opts Options) *Composition {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewAppConfig()
	}
	c := &Composition{
		localFS: opts.Local,
		local:   tree.NewEngine(string(models.PaneLocal), opts.Local, tree.HostPaths, opts.Bus),
		dialer:  opts.Dialer,
		bus:     opts.Bus,
		logger:  logging.NewLogger("panes"),
		store:   opts.Store,
		cfg:     cfg,
		state:   models.StateDisconnected,
		tokens:  make(map[models.Pane]uint64),
		iconSrc: opts.IconSource,
	}
	if c.iconSrc == nil {
		c.iconSrc = icons.MimeSource{}
	}
	c.icons = map[models.Pane]*icons.Cache{
		models.PaneLocal:  c.newIconCache(),
		models.PaneRemote: c.newIconCache(),
	}
	topts := append([]transfer.Option{
		transfer.WithRefresher(c.refreshPanes),
		transfer.WithNotifier(c.bumpTokens),
	}, opts.TransferOptions...)
	c.orch = transfer.New(opts.Local, opts.Bus, topts...)
	return c
}

// OpenLocal roots the local pane at dir, or at the home directory when dir is empty.
func (c *Composition) OpenLocal(ctx context.Context, dir string) error {
	if dir == "" {
		home, err := c.localFS.HomeDirectory()
		if err != nil {
			return err
		}
		dir = home
	}
	return c.local.SetRoot(ctx, dir)
}

// ConnectFTP logs in to an FTP server and opens the remote pane on the
// server's working directory. An existing connection is closed first.
func (c *Composition) ConnectFTP(ctx context.Context, desc models.FTPDescriptor) error {
	if err := c.beginConnect(ctx); err != nil {
		return err
	}
	c.logger.Info().Str("server", desc.DisplayName()).Msg("connecting")

	client, err := c.dialer.DialFTP(ctx, desc)
	if err != nil {
		return c.failConnect(models.ConnectionFTP, err)
	}
	eng := remote.NewFTP(client, c.bus)
	c.finishConnect(models.ConnectionFTP, eng, client, nil)
	c.open(ctx, eng)
	return nil
}

// ConnectCloud authenticates a cloud account and opens the remote pane on
// the drive root. An existing connection is closed first.
func (c *Composition) ConnectCloud(ctx context.Context, desc models.CloudDescriptor) error {
	if err := c.beginConnect(ctx); err != nil {
		return err
	}
	c.logger.Info().Str("account", desc.DisplayName()).Msg("connecting")

	client, err := c.dialer.DialCloud(ctx, desc)
	if err != nil {
		return c.failConnect(models.ConnectionCloud, err)
	}
	eng := remote.NewCloud(client, c.bus)
	c.finishConnect(models.ConnectionCloud, eng, nil, client)
	c.open(ctx, eng)
	return nil
}

// ConnectSaved connects to a saved connection by ID or name.
func (c *Composition) ConnectSaved(ctx context.Context, key string) error {
	c.cfgMu.Lock()
	ftpDesc, isFTP := c.cfg.FindFTP(key)
	cloudDesc, isCloud := c.cfg.FindCloud(key)
	c.cfgMu.Unlock()

	switch {
	case isFTP:
		return c.ConnectFTP(ctx, ftpDesc)
	case isCloud:
		return c.ConnectCloud(ctx, cloudDesc)
	}
	return fmt.Errorf("%w: %s", config.ErrConnectionNotFound, key)
}

func (c *Composition) beginConnect(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case models.StateConnecting:
		return ErrConnecting
	case models.StateConnected:
		if err := c.Disconnect(ctx); err != nil {
			return err
		}
	}
	return c.transition(models.ConnectionNone, models.StateConnecting, "")
}

func (c *Composition) failConnect(kind models.ConnectionKind, err error) error {
	c.logger.Error().Err(err).Str("kind", string(kind)).Msg("connection failed")
	if terr := c.transition(kind, models.StateError, err.Error()); terr != nil {
		return terr
	}
	return err
}

func (c *Composition) finishConnect(kind models.ConnectionKind, eng *remote.Engine, ftp backend.FTP, cloud backend.Cloud) {
	c.mu.Lock()
	c.remote = eng
	c.ftp = ftp
	c.cloud = cloud
	c.icons[models.PaneRemote] = c.newIconCache()
	c.mu.Unlock()
	_ = c.transition(kind, models.StateConnected, "")
}

// open lists the starting location. A failed first listing leaves the
// connection up with the error shown in the remote pane.
func (c *Composition) open(ctx context.Context, eng *remote.Engine) {
	if err := eng.Open(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("initial listing failed")
	}
}

// Disconnect closes the active connection. It is a no-op when disconnected.
func (c *Composition) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	kind := c.kind
	ftp := c.ftp
	switch state {
	case models.StateDisconnected:
		c.mu.Unlock()
		return nil
	case models.StateConnecting:
		c.mu.Unlock()
		return ErrConnecting
	}
	c.remote, c.ftp, c.cloud = nil, nil, nil
	c.mu.Unlock()

	if ftp != nil {
		if err := ftp.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("closing ftp connection")
		}
	}
	return c.transition(kind, models.StateDisconnected, "")
}

func (c *Composition) transition(kind models.ConnectionKind, to models.ConnectionState, errMsg string) error {
	c.mu.Lock()
	from := c.state
	if !from.CanTransitionTo(to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.state = to
	c.lastErr = errMsg
	switch to {
	case models.StateConnected, models.StateError:
		c.kind = kind
	default:
		c.kind = models.ConnectionNone
	}
	c.mu.Unlock()

	c.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("connection state")
	c.bus.Publish(&events.ConnectionStateEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventConnectionState, Time: time.Now()},
		Kind:      kind,
		From:      from,
		To:        to,
		Error:     errMsg,
	})
	return nil
}

// DropContext describes where files dropped on pane would go right now.
func (c *Composition) DropContext(pane models.Pane) transfer.DropContext {
	dc := transfer.DropContext{
		Target:   pane,
		LocalDir: c.local.RootPath(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.StateConnected || c.remote == nil {
		return dc
	}
	dc.Kind = c.kind
	dc.RemoteDir = c.remote.Location()
	dc.FTP = c.ftp
	dc.Cloud = c.cloud
	return dc
}

// Drop dispatches files dropped onto pane.
func (c *Composition) Drop(ctx context.Context, pane models.Pane, files []string) []models.TransferLogEntry {
	return c.orch.DispatchDrop(ctx, files, c.DropContext(pane))
}

// DownloadSelected downloads remote entries into the local pane's directory
// (falling back to the last download directory) and remembers it.
func (c *Composition) DownloadSelected(ctx context.Context, entries []models.Entry) ([]models.TransferLogEntry, error) {
	return c.DownloadTo(ctx, entries, "")
}

// DownloadTo downloads remote entries into dir and records dir as the last
// download directory. An empty dir picks the local pane's directory.
func (c *Composition) DownloadTo(ctx context.Context, entries []models.Entry, dir string) ([]models.TransferLogEntry, error) {
	if dir == "" {
		dir = c.local.RootPath()
	}
	if dir == "" {
		c.cfgMu.Lock()
		dir = c.cfg.UI.LastDownloadDir
		c.cfgMu.Unlock()
	}
	if dir == "" {
		home, err := c.localFS.HomeDirectory()
		if err != nil {
			return nil, err
		}
		dir = home
	}

	dc := c.DropContext(models.PaneLocal)
	dc.LocalDir = dir
	batch := c.orch.DispatchDownload(ctx, entries, dc)

	if err := c.rememberDownloadDir(dir); err != nil {
		return batch, err
	}
	return batch, nil
}

func (c *Composition) rememberDownloadDir(dir string) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if c.cfg.UI.LastDownloadDir == dir {
		return nil
	}
	c.cfg.UI.LastDownloadDir = dir
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(c.cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// bumpTokens advances each pane's refresh token and announces it. Nothing
// is re-listed, so expansion state survives.
func (c *Composition) bumpTokens(panes ...models.Pane) {
	for _, p := range panes {
		c.mu.Lock()
		c.tokens[p]++
		token := c.tokens[p]
		c.mu.Unlock()

		c.bus.Publish(&events.RefreshRequestedEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventRefreshRequested, Time: time.Now()},
			Pane:      p,
			Token:     token,
		})
	}
}

// refreshPanes bumps each pane's refresh token and re-lists it.
func (c *Composition) refreshPanes(ctx context.Context, panes ...models.Pane) {
	c.bumpTokens(panes...)
	for _, p := range panes {
		var err error
		switch p {
		case models.PaneLocal:
			if c.local.RootPath() != "" {
				err = c.local.Refresh(ctx, "")
			}
		case models.PaneRemote:
			if eng := c.Remote(); eng != nil {
				err = eng.Refresh(ctx)
			}
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("pane", string(p)).Msg("refresh failed")
		}
	}
}

// Start routes native drop events and feeds transfer progress into the
// orchestrator on background goroutines. Subscriptions are in place when it
// returns; the channel closes after ctx is done and running drops finish.
func (c *Composition) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	orchDone := c.orch.Start(ctx)
	if c.bus == nil {
		go func() {
			defer close(done)
			<-orchDone
		}()
		return done
	}
	drops := c.bus.Subscribe(events.EventFileDrop)

	go func() {
		var wg sync.WaitGroup
		defer close(done)
		defer func() { <-orchDone }()
		defer wg.Wait()
		defer c.bus.Unsubscribe(events.EventFileDrop, drops)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-drops:
				if !ok {
					return
				}
				drop, ok := ev.(*events.FileDropEvent)
				if !ok || len(drop.Paths) == 0 {
					continue
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					c.Drop(ctx, drop.Pane, drop.Paths)
				}()
			}
		}
	}()
	return done
}

// Run is Start that blocks until ctx is done. Each drop runs as its own batch.
func (c *Composition) Run(ctx context.Context) {
	<-c.Start(ctx)
}

// Local returns the local pane engine.
func (c *Composition) Local() *tree.Engine {
	return c.local
}

// Remote returns the remote pane engine, or nil when not connected.
func (c *Composition) Remote() *remote.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Icons returns the icon cache of pane. Each remote engine gets a fresh one.
func (c *Composition) Icons(pane models.Pane) *icons.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.icons[pane]
}

func (c *Composition) newIconCache() *icons.Cache {
	return icons.NewCache(c.iconSrc, icons.WithEventBus(c.bus))
}

// Orchestrator returns the transfer orchestrator.
func (c *Composition) Orchestrator() *transfer.Orchestrator {
	return c.orch
}

// State returns the connection state and the kind of the active connection.
func (c *Composition) State() (models.ConnectionState, models.ConnectionKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.kind
}

// LastError returns the error of the last failed connection attempt.
func (c *Composition) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// RefreshToken returns the pane's refresh counter. It only ever grows.
func (c *Composition) RefreshToken(pane models.Pane) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[pane]
}

// Config returns the configuration the composition reads and updates.
func (c *Composition) Config() *config.AppConfig {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg
}
