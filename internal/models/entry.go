package models

import (
	"sort"
	"strings"
	"time"
)

// Entry is one listing row returned by a backend (local, FTP or cloud).
type Entry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path,omitempty"` // absolute path (local and FTP)
	ID          string    `json:"id,omitempty"`   // opaque identifier (cloud)
	IsDir       bool      `json:"isDir"`
	Size        *uint64   `json:"size,omitempty"` // nil when the backend does not report a size
	Modified    time.Time `json:"modified,omitempty"`
	Permissions string    `json:"permissions,omitempty"`
	MimeType    string    `json:"mimeType,omitempty"`
}

// Key returns the identifier used to address the entry: the cloud ID when
// present, otherwise the path.
func (e Entry) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Path
}

// SizeOrZero returns the known size or 0.
func (e Entry) SizeOrZero() uint64 {
	if e.Size == nil {
		return 0
	}
	return *e.Size
}

// Extension returns the lower-cased extension without the leading dot.
// Directories and dotfiles without a further dot have no extension.
func (e Entry) Extension() string {
	if e.IsDir {
		return ""
	}
	return ExtensionOf(e.Name)
}

// ExtensionOf returns the lower-cased extension of a file name without the dot.
func ExtensionOf(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// SizePtr returns a pointer to a copy of n.
func SizePtr(n uint64) *uint64 {
	return &n
}

// SortEntries orders entries directories first, then by case-insensitive name.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

// Pane identifies one side of the dual-pane view.
type Pane string

const (
	PaneLocal  Pane = "local"
	PaneRemote Pane = "remote"
)

// ParsePane accepts "local" or "remote" (case-insensitive).
func ParsePane(s string) (Pane, bool) {
	switch Pane(strings.ToLower(strings.TrimSpace(s))) {
	case PaneLocal:
		return PaneLocal, true
	case PaneRemote:
		return PaneRemote, true
	}
	return "", false
}
