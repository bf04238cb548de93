package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/models"
)

// cloudNavigator keeps the address client-side: cloud APIs have no working
// directory, so going up pops a stack of visited folders. The bottom of the
// stack is always the root.
type cloudNavigator struct {
	client backend.Cloud

	mu    sync.Mutex
	stack []Crumb
}

func newCloudNavigator(client backend.Cloud) *cloudNavigator {
	return &cloudNavigator{
		client: client,
		stack:  []Crumb{rootCrumb()},
	}
}

func rootCrumb() Crumb {
	return Crumb{ID: backend.RootFolderID, Name: "/"}
}

func (n *cloudNavigator) kind() models.ConnectionKind {
	return models.ConnectionCloud
}

func (n *cloudNavigator) location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stack[len(n.stack)-1].ID
}

func (n *cloudNavigator) crumbs() []Crumb {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Crumb(nil), n.stack...)
}

func (n *cloudNavigator) open(ctx context.Context) (*listing, error) {
	return n.listAt(ctx, []Crumb{rootCrumb()})
}

func (n *cloudNavigator) into(ctx context.Context, entry models.Entry) (*listing, error) {
	if entry.ID == "" {
		return nil, fmt.Errorf("open %s: %w", entry.Name, backend.ErrMissingID)
	}
	next := append(n.crumbs(), Crumb{ID: entry.ID, Name: entry.Name})
	return n.listAt(ctx, next)
}

func (n *cloudNavigator) up(ctx context.Context) (*listing, error) {
	cur := n.crumbs()
	if len(cur) <= 1 {
		return nil, nil
	}
	return n.listAt(ctx, cur[:len(cur)-1])
}

func (n *cloudNavigator) relist(ctx context.Context) (*listing, error) {
	return n.listAt(ctx, n.crumbs())
}

func (n *cloudNavigator) listAt(ctx context.Context, stack []Crumb) (*listing, error) {
	entries, err := n.client.List(ctx, stack[len(stack)-1].ID)
	if err != nil {
		return nil, err
	}
	return &listing{
		entries: entries,
		commit: func() {
			n.mu.Lock()
			n.stack = stack
			n.mu.Unlock()
		},
	}, nil
}

// check rejects an operation locally when the provider lacks it or the
// entry has no ID.
func (n *cloudNavigator) check(op string, supported bool, entry models.Entry) error {
	if !supported {
		return fmt.Errorf("%s %s: %w", op, entry.Name, backend.ErrNotSupported)
	}
	if entry.ID == "" {
		return fmt.Errorf("%s %s: %w", op, entry.Name, backend.ErrMissingID)
	}
	return nil
}

func (n *cloudNavigator) rename(ctx context.Context, entry models.Entry, newName string) error {
	if err := n.check("rename", n.client.Capabilities().Rename, entry); err != nil {
		return err
	}
	return n.client.Rename(ctx, entry, newName)
}

func (n *cloudNavigator) remove(ctx context.Context, entry models.Entry) error {
	if err := n.check("delete", n.client.Capabilities().Delete, entry); err != nil {
		return err
	}
	return n.client.Delete(ctx, entry)
}

func (n *cloudNavigator) copyAs(ctx context.Context, entry models.Entry, newName string) error {
	if err := n.check("copy", n.client.Capabilities().Copy, entry); err != nil {
		return err
	}
	return n.client.Copy(ctx, entry, newName)
}

func (n *cloudNavigator) download(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	if err := n.check("download", true, entry); err != nil {
		return "", err
	}
	return n.client.Download(ctx, entry, localDir)
}

func (n *cloudNavigator) downloadFolder(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	if err := n.check("download folder", n.client.Capabilities().DownloadFolder, entry); err != nil {
		return "", err
	}
	return n.client.DownloadFolder(ctx, entry, localDir)
}

func (n *cloudNavigator) makeDir(ctx context.Context, name string) error {
	if !n.client.Capabilities().MakeDir {
		return fmt.Errorf("create folder %s: %w", name, backend.ErrNotSupported)
	}
	return n.client.MakeDir(ctx, n.location(), name)
}
