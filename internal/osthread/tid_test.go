//go:build linux || windows

package osthread

import (
	"runtime"
	"testing"
)

func TestID_StableWhileLocked(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	first, ok := ID()
	if !ok {
		t.Fatal("expected thread id to be available")
	}
	for i := 0; i < 10; i++ {
		runtime.Gosched()
		if id, _ := ID(); id != first {
			t.Fatalf("thread id changed while locked: %d -> %d", first, id)
		}
	}
}

func TestID_DistinctThreads(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	mine, _ := ID()

	other := make(chan uint64)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		id, _ := ID()
		other <- id
	}()

	if id := <-other; id == mine {
		t.Fatalf("two locked goroutines reported the same thread id %d", id)
	}
}
