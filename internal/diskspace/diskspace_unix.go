//go:build linux || darwin

package diskspace

import "syscall"

// Available returns the bytes available to unprivileged users on dir's file system.
func Available(dir string) (uint64, bool) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, false
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), true
}
