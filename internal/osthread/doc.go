// Package osthread reports the id of the OS thread running the caller.
//
// The id is only meaningful while the calling goroutine is locked to its OS
// thread with runtime.LockOSThread.
package osthread
