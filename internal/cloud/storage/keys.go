// Package storage holds the key layout and error helpers shared by the
// object-store providers (S3, Azure Blob). Folders are key prefixes ending in
// "/"; the root folder is the empty prefix.
package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/rescale/duopane/internal/backend"
)

// Prefix converts a folder ID into a listing prefix.
func Prefix(folderID string) string {
	if folderID == "" || folderID == backend.RootFolderID || folderID == "/" {
		return ""
	}
	folderID = strings.TrimPrefix(folderID, "/")
	if !strings.HasSuffix(folderID, "/") {
		folderID += "/"
	}
	return folderID
}

// ChildKey returns the key of name inside folderID.
func ChildKey(folderID, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return Prefix(folderID) + name, nil
}

// FolderKey returns the marker key for a folder named name inside folderID.
func FolderKey(folderID, name string) (string, error) {
	key, err := ChildKey(folderID, name)
	if err != nil {
		return "", err
	}
	return key + "/", nil
}

// SiblingKey returns the key of newName in the same folder as key.
func SiblingKey(key, newName string) (string, error) {
	if err := ValidateName(newName); err != nil {
		return "", err
	}
	dir := path.Dir(strings.TrimSuffix(key, "/"))
	if dir == "." {
		return newName, nil
	}
	return dir + "/" + newName, nil
}

// BaseName returns the last segment of a key or prefix.
func BaseName(key string) string {
	return path.Base(strings.TrimSuffix(key, "/"))
}

// IsFolderKey reports whether key is a folder prefix or marker.
func IsFolderKey(key string) bool {
	return strings.HasSuffix(key, "/")
}

// Relative returns key relative to prefix.
func Relative(prefix, key string) string {
	return strings.TrimPrefix(key, prefix)
}

// ValidateName rejects names that cannot be a single key segment.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.Contains(name, "/"):
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidName, name)
	}
	return nil
}
