package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/models"
)

// ftpNavigator trusts the server: after every directory change the address
// is re-read with PWD.
type ftpNavigator struct {
	client backend.FTP

	// seq keeps a CWD/PWD/LIST sequence from interleaving with another.
	seq sync.Mutex

	mu  sync.Mutex
	cwd string
}

func newFTPNavigator(client backend.FTP) *ftpNavigator {
	return &ftpNavigator{client: client, cwd: "/"}
}

func (n *ftpNavigator) kind() models.ConnectionKind {
	return models.ConnectionFTP
}

func (n *ftpNavigator) location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cwd
}

func (n *ftpNavigator) crumbs() []Crumb {
	cwd := n.location()
	out := []Crumb{{ID: "/", Name: "/"}}
	acc := ""
	for _, part := range strings.Split(strings.Trim(cwd, "/"), "/") {
		if part == "" {
			continue
		}
		acc += "/" + part
		out = append(out, Crumb{ID: acc, Name: part})
	}
	return out
}

func (n *ftpNavigator) open(ctx context.Context) (*listing, error) {
	n.seq.Lock()
	defer n.seq.Unlock()

	pwd, err := n.client.CurrentDir(ctx)
	if err != nil {
		return nil, err
	}
	return n.listAt(ctx, pwd)
}

func (n *ftpNavigator) into(ctx context.Context, entry models.Entry) (*listing, error) {
	n.seq.Lock()
	defer n.seq.Unlock()

	prev := n.location()
	if err := n.client.ChangeDir(ctx, path.Join(prev, entry.Name)); err != nil {
		return nil, err
	}
	return n.afterChange(ctx, prev)
}

func (n *ftpNavigator) up(ctx context.Context) (*listing, error) {
	n.seq.Lock()
	defer n.seq.Unlock()

	prev := n.location()
	// a superseded navigation may have left the server elsewhere
	if err := n.client.ChangeDir(ctx, prev); err != nil {
		return nil, err
	}
	if err := n.client.ChangeDirUp(ctx); err != nil {
		return nil, err
	}
	return n.afterChange(ctx, prev)
}

// afterChange reads the new working directory and lists it. On failure the
// server is moved back to prev so it keeps matching the kept address.
func (n *ftpNavigator) afterChange(ctx context.Context, prev string) (*listing, error) {
	pwd, err := n.client.CurrentDir(ctx)
	if err == nil {
		var l *listing
		if l, err = n.listAt(ctx, pwd); err == nil {
			return l, nil
		}
	}
	_ = n.client.ChangeDir(ctx, prev)
	return nil, err
}

func (n *ftpNavigator) relist(ctx context.Context) (*listing, error) {
	n.seq.Lock()
	defer n.seq.Unlock()
	return n.listAt(ctx, n.location())
}

func (n *ftpNavigator) listAt(ctx context.Context, dir string) (*listing, error) {
	entries, err := n.client.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	return &listing{
		entries: entries,
		commit: func() {
			n.mu.Lock()
			n.cwd = dir
			n.mu.Unlock()
		},
	}, nil
}

// entryPath prefers the path reported by the listing.
func (n *ftpNavigator) entryPath(entry models.Entry) string {
	if entry.Path != "" {
		return entry.Path
	}
	return path.Join(n.location(), entry.Name)
}

func (n *ftpNavigator) rename(ctx context.Context, entry models.Entry, newName string) error {
	from := n.entryPath(entry)
	return n.client.Rename(ctx, from, path.Join(path.Dir(from), newName))
}

func (n *ftpNavigator) remove(ctx context.Context, entry models.Entry) error {
	if entry.IsDir {
		return n.client.RemoveDir(ctx, n.entryPath(entry))
	}
	return n.client.Delete(ctx, n.entryPath(entry))
}

// copyAs has no server-side command: the file goes through a local temp
// directory and is uploaded back under the new name.
func (n *ftpNavigator) copyAs(ctx context.Context, entry models.Entry, newName string) error {
	if entry.IsDir {
		return fmt.Errorf("copy folder %s: %w", entry.Name, backend.ErrNotSupported)
	}
	src := n.entryPath(entry)

	tmp, err := os.MkdirTemp("", "duopane-copy-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	dlDir := filepath.Join(tmp, "src")
	if err := os.Mkdir(dlDir, 0700); err != nil {
		return err
	}
	if _, err := n.client.Download(ctx, src, dlDir); err != nil {
		return err
	}
	staged := filepath.Join(tmp, newName)
	if err := os.Rename(filepath.Join(dlDir, path.Base(src)), staged); err != nil {
		return fmt.Errorf("failed to stage copy: %w", err)
	}
	_, err = n.client.Upload(ctx, staged, path.Dir(src))
	return err
}

func (n *ftpNavigator) download(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	return n.client.Download(ctx, n.entryPath(entry), localDir)
}

func (n *ftpNavigator) downloadFolder(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	return n.client.DownloadFolder(ctx, n.entryPath(entry), localDir)
}

func (n *ftpNavigator) makeDir(ctx context.Context, name string) error {
	return n.client.MakeDir(ctx, path.Join(n.location(), name))
}
