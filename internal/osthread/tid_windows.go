//go:build windows

package osthread

import "golang.org/x/sys/windows"

// ID returns the Win32 thread id of the calling thread.
func ID() (uint64, bool) {
	return uint64(windows.GetCurrentThreadId()), true
}
