//go:build !linux && !darwin && !windows

package diskspace

// Available is not implemented on this platform.
func Available(string) (uint64, bool) {
	return 0, false
}
