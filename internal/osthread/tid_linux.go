//go:build linux

package osthread

import "golang.org/x/sys/unix"

// ID returns the kernel thread id of the calling thread.
func ID() (uint64, bool) {
	return uint64(unix.Gettid()), true
}
