package tree

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/rescale/duopane/internal/models"
)

// Matcher is a compiled, case-insensitive name filter.
type Matcher struct {
	query string
	g     glob.Glob
}

// NewMatcher compiles query. Every query is a case-insensitive substring
// match; a query containing *, ? or [ that compiles as a glob also matches
// names the whole glob matches.
func NewMatcher(query string) Matcher {
	q := strings.ToLower(query)
	m := Matcher{query: q}
	if strings.ContainsAny(q, "*?[") {
		if g, err := glob.Compile(q); err == nil {
			m.g = g
		}
	}
	return m
}

// Match reports whether name passes the filter. The empty query matches everything.
func (m Matcher) Match(name string) bool {
	if m.query == "" {
		return true
	}
	lower := strings.ToLower(name)
	if strings.Contains(lower, m.query) {
		return true
	}
	return m.g != nil && m.g.Match(lower)
}

// FilterEntries keeps entries whose names match query, preserving order.
func FilterEntries(entries []models.Entry, query string) []models.Entry {
	m := NewMatcher(query)
	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if m.Match(e.Name) {
			out = append(out, e)
		}
	}
	return out
}

// Filter returns the root-level nodes whose names match query, in order.
// Deeper levels are not searched and the tree is not modified.
func (e *Engine) Filter(query string) []Node {
	m := NewMatcher(query)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root == nil {
		return nil
	}
	out := make([]Node, 0, len(e.root.Children))
	for _, n := range e.root.Children {
		if m.Match(n.Name) {
			out = append(out, n.shallow())
		}
	}
	return out
}
