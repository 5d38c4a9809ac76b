//go:build !linux && !windows

package osthread

// ID reports false: no portable thread id is available on this platform.
func ID() (uint64, bool) {
	return 0, false
}
