// Package localfs is the local file-system backend: listing, home directory
// and copies into a destination directory with progress events.
package localfs

import "strings"

// IsHiddenName reports whether name is a dotfile. "." and ".." are not hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}
