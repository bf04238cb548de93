package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/logging"
)

var (
	// ErrNodeNotFound is returned for IDs that are not materialized.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidIndexPath is returned when an index path does not resolve.
	ErrInvalidIndexPath = errors.New("index path does not resolve to a node")

	// ErrNotDirectory is returned when refreshing a file.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNoRoot is returned before SetRoot has been called.
	ErrNoRoot = errors.New("no root set")
)

// Engine owns one partially materialized tree. Every blocking list call runs
// without the lock held; results are applied only if the node's generation
// token still matches, so late results from superseded fetches are dropped.
type Engine struct {
	name   string
	lister backend.Lister
	style  PathStyle
	bus    *events.EventBus
	logger *logging.Logger

	mu   sync.Mutex
	root *Node
	err  string
	gen  uint64
}

// NewEngine creates an engine listing through lister. name tags events
// ("local", "ftp").
func NewEngine(name string, lister backend.Lister, style PathStyle, bus *events.EventBus) *Engine {
	return &Engine{
		name:   name,
		lister: lister,
		style:  style,
		bus:    bus,
		logger: logging.NewLogger("tree-" + name),
	}
}

// SetRoot replaces the whole hierarchy with path and fetches its first level.
// All previous expansion state is discarded.
func (e *Engine) SetRoot(ctx context.Context, rootPath string) error {
	e.mu.Lock()
	token := e.nextGen()
	e.root = &Node{
		Name:     e.style.Base(rootPath),
		ID:       rootPath,
		IsDir:    true,
		Expanded: true,
		Loading:  true,
		gen:      token,
	}
	e.err = ""
	e.mu.Unlock()

	e.publish(rootPath, true)
	return e.fetch(ctx, rootPath, token)
}

// Toggle flips a directory's expansion. The first expansion fetches the
// children; later expansions reuse them. Collapsing keeps them.
func (e *Engine) Toggle(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.root == nil {
		e.mu.Unlock()
		return ErrNoRoot
	}
	n := e.root.find(id)
	if n == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if !n.IsDir || n == e.root {
		e.mu.Unlock()
		return nil
	}

	if n.Expanded {
		n.Expanded = false
		e.mu.Unlock()
		e.publish(id, false)
		return nil
	}

	n.Expanded = true
	if n.Fetched || n.Loading {
		loading := n.Loading
		e.mu.Unlock()
		e.publish(id, loading)
		return nil
	}

	n.Loading = true
	token := e.nextGen()
	n.gen = token
	e.mu.Unlock()

	e.publish(id, true)
	return e.fetch(ctx, id, token)
}

// ToggleAt resolves an index path (positions among materialized children,
// starting at the root level) to a node ID at call time and toggles it.
func (e *Engine) ToggleAt(ctx context.Context, indexPath []int) error {
	id, err := e.Resolve(indexPath)
	if err != nil {
		return err
	}
	return e.Toggle(ctx, id)
}

// Resolve maps an index path to the ID of the node it currently addresses.
func (e *Engine) Resolve(indexPath []int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.root == nil {
		return "", ErrNoRoot
	}
	if len(indexPath) == 0 {
		return "", ErrInvalidIndexPath
	}
	n := e.root
	for _, i := range indexPath {
		if i < 0 || i >= len(n.Children) {
			return "", fmt.Errorf("%w: %v", ErrInvalidIndexPath, indexPath)
		}
		n = n.Children[i]
	}
	return n.ID, nil
}

// Refresh re-fetches one materialized directory (or the root) and replaces
// its children, dropping any deeper expansion. It also re-arms a node stuck
// in Loading: the newer token supersedes the outstanding fetch.
func (e *Engine) Refresh(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.root == nil {
		e.mu.Unlock()
		return ErrNoRoot
	}
	if id == "" {
		id = e.root.ID
	}
	n := e.root.find(id)
	if n == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if !n.IsDir {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotDirectory, id)
	}
	n.Loading = true
	token := e.nextGen()
	n.gen = token
	e.mu.Unlock()

	e.publish(id, true)
	return e.fetch(ctx, id, token)
}

// GoUp re-roots the tree at the parent of the current root. It is a no-op
// at the file-system root.
func (e *Engine) GoUp(ctx context.Context) error {
	e.mu.Lock()
	if e.root == nil {
		e.mu.Unlock()
		return ErrNoRoot
	}
	current := e.root.ID
	e.mu.Unlock()

	parent := e.style.Parent(current)
	if parent == current {
		return nil
	}
	return e.SetRoot(ctx, parent)
}

func (e *Engine) fetch(ctx context.Context, id string, token uint64) error {
	start := time.Now()
	entries, listErr := e.lister.List(ctx, id)

	e.mu.Lock()
	var n *Node
	if e.root != nil {
		n = e.root.find(id)
	}
	if n == nil || n.gen != token {
		e.mu.Unlock()
		e.logger.Debug().Str("id", id).Uint64("token", token).Msg("discarding stale listing")
		return nil
	}

	n.Loading = false
	if listErr != nil {
		e.err = fmt.Sprintf("Failed to list %s: %v", id, listErr)
		if n != e.root {
			// collapse so the next expand retries
			n.Expanded = false
		}
		e.mu.Unlock()
		e.logger.Error().Err(listErr).Str("id", id).Msg("listing failed")
		e.publish(id, false)
		return listErr
	}

	n.Children = nodesFrom(entries)
	n.Fetched = true
	e.err = ""
	e.mu.Unlock()

	e.logger.Debug().Str("id", id).Int("entries", len(entries)).Dur("took", time.Since(start)).Msg("listed")
	e.publish(id, false)
	return nil
}

// nextGen must be called with e.mu held.
func (e *Engine) nextGen() uint64 {
	e.gen++
	return e.gen
}

func (e *Engine) publish(id string, loading bool) {
	e.mu.Lock()
	root := ""
	if e.root != nil {
		root = e.root.ID
	}
	errMsg := e.err
	e.mu.Unlock()

	e.bus.Publish(&events.TreeChangedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTreeChanged, Time: time.Now()},
		Source:    e.name,
		Root:      root,
		NodeID:    id,
		Loading:   loading,
		Error:     errMsg,
	})
}

// Name returns the engine's event tag.
func (e *Engine) Name() string {
	return e.name
}

// RootPath returns the current root ID, or "" before SetRoot.
func (e *Engine) RootPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root == nil {
		return ""
	}
	return e.root.ID
}

// Err returns the tree-wide error string from the last failed fetch.
func (e *Engine) Err() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Snapshot returns a deep copy of the whole tree, or nil before SetRoot.
func (e *Engine) Snapshot() *Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root == nil {
		return nil
	}
	return e.root.clone()
}

// Node returns a deep copy of the node with id.
func (e *Engine) Node(id string) (*Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root == nil {
		return nil, false
	}
	n := e.root.find(id)
	if n == nil {
		return nil, false
	}
	return n.clone(), true
}

// Row is one visible line of the flattened tree.
type Row struct {
	Depth int
	Node  Node // children stripped
}

// Visible flattens the tree depth-first through expanded directories,
// starting at the root level (depth 0).
func (e *Engine) Visible() []Row {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root == nil {
		return nil
	}
	var rows []Row
	var walk func(nodes []*Node, depth int)
	walk = func(nodes []*Node, depth int) {
		for _, n := range nodes {
			rows = append(rows, Row{Depth: depth, Node: n.shallow()})
			if n.IsDir && n.Expanded {
				walk(n.Children, depth+1)
			}
		}
	}
	walk(e.root.Children, 0)
	return rows
}
