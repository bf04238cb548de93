package cli

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/viper"

	"github.com/rescale/duopane/internal/cloud/storage"
	"github.com/rescale/duopane/internal/config"
	"github.com/rescale/duopane/internal/connect"
	"github.com/rescale/duopane/internal/events"
	dhttp "github.com/rescale/duopane/internal/http"
	"github.com/rescale/duopane/internal/icons"
	"github.com/rescale/duopane/internal/localfs"
	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/panes"
	"github.com/rescale/duopane/internal/progress"
	"github.com/rescale/duopane/internal/remote"
)

// session is the state one command invocation works on.
type session struct {
	store *config.Store
	cfg   *config.AppConfig
	bus   *events.EventBus
	comp  *panes.Composition
}

func openConfig(v *viper.Viper) (*config.Store, *config.AppConfig, error) {
	store, err := config.NewStore(v.GetString("config"))
	if err != nil {
		return nil, nil, err
	}
	cfg, err := store.Load()
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func newSession(v *viper.Viper, showHidden bool) (*session, error) {
	store, cfg, err := openConfig(v)
	if err != nil {
		return nil, err
	}
	return buildSession(store, cfg, showHidden), nil
}

// newRemoteSession is newSession for commands that dial a connection. An
// authenticating proxy without a saved password is asked for one; the answer
// is not written back to the config file.
func newRemoteSession(v *viper.Viper) (*session, error) {
	store, cfg, err := openConfig(v)
	if err != nil {
		return nil, err
	}
	if dhttp.NeedsProxyPassword(cfg.Proxy) {
		pw, err := promptPassword(fmt.Sprintf("Proxy password for %s", cfg.Proxy.User))
		if err != nil {
			return nil, err
		}
		cfg.Proxy.Password = pw
	}
	return buildSession(store, cfg, false), nil
}

func buildSession(store *config.Store, cfg *config.AppConfig, showHidden bool) *session {
	bus := events.NewEventBus(0)
	local := localfs.New(
		localfs.ListOptions{IncludeHidden: showHidden || cfg.UI.ShowHidden},
		localfs.NewCopier(bus),
	)
	comp := panes.New(panes.Options{
		Local:  local,
		Dialer: connect.NewDialer(cfg.Proxy, bus),
		Bus:    bus,
		Config: cfg,
		Store:  store,
	})
	return &session{store: store, cfg: cfg, bus: bus, comp: comp}
}

func (s *session) Close() {
	if err := s.comp.Disconnect(context.Background()); err != nil {
		GetLogger().Warn().Err(err).Msg("disconnect")
	}
	s.bus.Close()
}

// openRemote connects a saved connection and returns its engine on the
// starting location.
func (s *session) openRemote(ctx context.Context, key string) (*remote.Engine, error) {
	if err := s.comp.ConnectSaved(ctx, key); err != nil {
		return nil, err
	}
	eng := s.comp.Remote()
	if eng == nil {
		return nil, fmt.Errorf("connection %s did not open", key)
	}
	if msg := eng.Err(); msg != "" {
		return nil, fmt.Errorf("%s", msg)
	}
	return eng, nil
}

// withProgress runs the composition's event loop while fn runs and renders
// the live transfer records it keeps.
func (s *session) withProgress(ctx context.Context, expected int, fn func()) {
	s.renderWhile(ctx, progress.NewDisplay(expected), fn)
}

func (s *session) renderWhile(ctx context.Context, d progress.Display, fn func()) {
	fctx, stopFollow := context.WithCancel(ctx)
	followed := progress.Follow(fctx, s.bus, d)
	rctx, stopRun := context.WithCancel(ctx)
	ran := s.comp.Start(rctx)

	fn()

	// the loop merges queued progress first, then the display drains its records
	stopRun()
	<-ran
	stopFollow()
	<-followed
	d.Close()
}

// walkTo navigates eng through dir, a slash separated path relative to the
// current location. ".." goes up.
func walkTo(ctx context.Context, eng *remote.Engine, dir string) error {
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if err := eng.GoUp(ctx); err != nil {
				return err
			}
			continue
		}
		entry, ok := eng.Entry(part)
		if !ok || !entry.IsDir {
			return fmt.Errorf("%s: no such folder", part)
		}
		if err := eng.NavigateInto(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// resolve walks to the parent of p and returns the entry it names.
func resolve(ctx context.Context, eng *remote.Engine, p string) (models.Entry, error) {
	dir, base := path.Split(strings.TrimRight(p, "/"))
	if err := walkTo(ctx, eng, dir); err != nil {
		return models.Entry{}, err
	}
	entry, ok := eng.Entry(base)
	if !ok {
		return models.Entry{}, fmt.Errorf("%s: not found in %s", base, eng.DisplayPath())
	}
	return entry, nil
}

// printBatch writes one line per log entry and reports failures as an error.
func printBatch(w io.Writer, batch []models.TransferLogEntry) error {
	failed := 0
	for _, e := range batch {
		fmt.Fprintln(w, e.String())
		if e.Failed() {
			failed++
			if hint := storage.Hint(e.Err); hint != "" {
				fmt.Fprintf(w, "  hint: %s\n", hint)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(batch))
	}
	return nil
}

// iconLabeler resolves the icons of names through cache, waits for the
// pending lookups and returns a labeler reading the settled cache.
func iconLabeler(cache *icons.Cache, names []string) func(name string, isDir bool) string {
	for _, n := range names {
		cache.Resolve(models.ExtensionOf(n))
	}
	cache.Wait()
	return func(name string, isDir bool) string {
		if isDir {
			return "folder"
		}
		icon, _ := cache.Resolve(models.ExtensionOf(name))
		return icon.Name
	}
}

func formatSize(size *uint64) string {
	if size == nil {
		return "-"
	}
	n := float64(*size)
	for _, unit := range []string{"B", "KiB", "MiB", "GiB"} {
		if n < 1024 {
			if unit == "B" {
				return fmt.Sprintf("%d B", *size)
			}
			return fmt.Sprintf("%.1f %s", n, unit)
		}
		n /= 1024
	}
	return fmt.Sprintf("%.1f TiB", n)
}
