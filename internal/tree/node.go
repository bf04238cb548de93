// Package tree holds the lazily materialized directory tree behind one pane.
package tree

import (
	"path"
	"path/filepath"

	"github.com/rescale/duopane/internal/models"
)

// ChildState distinguishes the three states of a directory's children.
type ChildState int

const (
	Unfetched ChildState = iota
	Empty
	Populated
)

func (s ChildState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Populated:
		return "populated"
	default:
		return "unfetched"
	}
}

// Node is one materialized tree entry, addressed by its ID (absolute path).
type Node struct {
	Name     string
	ID       string
	IsDir    bool
	Size     *uint64
	Children []*Node
	Fetched  bool
	Expanded bool
	Loading  bool

	// gen is the token of the fetch currently allowed to land on this node.
	gen uint64
}

// State reports whether the children are unfetched, empty or populated.
func (n *Node) State() ChildState {
	switch {
	case !n.Fetched:
		return Unfetched
	case len(n.Children) == 0:
		return Empty
	default:
		return Populated
	}
}

// clone returns a deep copy.
func (n *Node) clone() *Node {
	c := *n
	if n.Size != nil {
		c.Size = models.SizePtr(*n.Size)
	}
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.clone()
		}
	}
	return &c
}

// shallow returns a copy without children, for row views.
func (n *Node) shallow() Node {
	c := *n
	c.Children = nil
	return c
}

func (n *Node) find(id string) *Node {
	if n.ID == id {
		return n
	}
	for _, child := range n.Children {
		if found := child.find(id); found != nil {
			return found
		}
	}
	return nil
}

func nodesFrom(entries []models.Entry) []*Node {
	nodes := make([]*Node, 0, len(entries))
	for _, e := range entries {
		nodes = append(nodes, &Node{
			Name:  e.Name,
			ID:    e.Key(),
			IsDir: e.IsDir,
			Size:  e.Size,
		})
	}
	return nodes
}

// PathStyle selects how parent paths are derived from IDs.
type PathStyle int

const (
	// HostPaths uses path/filepath (local file system).
	HostPaths PathStyle = iota
	// SlashPaths uses path (FTP servers).
	SlashPaths
)

// Parent returns the parent of p; the parent of a root is the root itself.
func (s PathStyle) Parent(p string) string {
	if s == SlashPaths {
		return path.Dir(p)
	}
	return filepath.Dir(p)
}

// Base returns the last element of p.
func (s PathStyle) Base(p string) string {
	if s == SlashPaths {
		return path.Base(p)
	}
	return filepath.Base(p)
}
