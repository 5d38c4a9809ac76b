package dispatch

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/native-bridge/errors"
)

// recorder collects listener calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) listener(name string) Listener[int] {
	return func(v int) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
	}
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestHandler_MainBeforeLowPriority(t *testing.T) {
	h := NewHandler[int]()
	rec := &recorder{}

	var got atomic.Int64
	h.AddLowPriority(rec.listener("low1"))
	h.Add(rec.listener("main1"))
	h.Add(rec.listener("main2"))
	h.AddLowPriority(func(v int) {
		got.Store(int64(v))
		rec.listener("low2")(v)
	})
	h.Add(rec.listener("main3"))

	h.Handle(42)
	h.Wait()

	want := []string{"main1", "main2", "main3", "low1", "low2"}
	calls := rec.get()
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	if got.Load() != 42 {
		t.Errorf("listener received %d, want 42", got.Load())
	}
}

func TestHandler_BufferSizeOneIsSynchronous(t *testing.T) {
	h := NewHandler[int](WithBufferSize(1))

	var listener atomic.Bool
	h.Add(func(int) {
		time.Sleep(20 * time.Millisecond)
		listener.Store(true)
	})

	for i := 0; i < 3; i++ {
		listener.Store(false)
		h.Handle(i)
		if !listener.Load() {
			t.Fatalf("dispatch %d still running after Handle returned", i)
		}
	}
}

func TestHandler_BoundedOutstanding(t *testing.T) {
	const size = 4
	h := NewHandler[int](WithBufferSize(size))

	release := make(chan struct{})
	var started atomic.Int32
	h.Add(func(int) {
		started.Add(1)
		<-release
	})

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		for i := 0; i < size; i++ {
			h.Handle(i)
		}
	}()

	select {
	case <-returned:
		t.Fatal("Handle returned with the buffer full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-returned
	h.Wait()

	if started.Load() != size {
		t.Errorf("dispatches = %d, want %d", started.Load(), size)
	}
	if h.BufferSize() != size {
		t.Errorf("BufferSize() = %d, want %d", h.BufferSize(), size)
	}
}

func TestHandler_Remove(t *testing.T) {
	h := NewHandler[int](WithBufferSize(1))
	rec := &recorder{}

	a := h.Add(rec.listener("a"))
	b := h.AddLowPriority(rec.listener("b"))
	h.Add(rec.listener("c"))

	if !h.Remove(a) || !h.Remove(b) {
		t.Fatal("expected listeners to be removed")
	}
	if h.Remove(a) {
		t.Error("removed the same listener twice")
	}
	if h.Remove(InvalidListenerID) {
		t.Error("removed the invalid id")
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}

	h.Handle(1)
	if calls := rec.get(); len(calls) != 1 || calls[0] != "c" {
		t.Errorf("calls = %v, want [c]", calls)
	}
}

func TestHandler_NilListener(t *testing.T) {
	h := NewHandler[int]()
	if id := h.Add(nil); id != InvalidListenerID {
		t.Errorf("Add(nil) = %d, want InvalidListenerID", id)
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
}

func TestListenerIDsUniqueAcrossDispatchers(t *testing.T) {
	a := NewHandler[int]()
	b := NewSimpleHandler[string]()

	seen := make(map[ListenerID]bool)
	for i := 0; i < 10; i++ {
		for _, id := range []ListenerID{
			a.Add(func(int) {}),
			b.Add(func(string) {}),
			a.AddLowPriority(func(int) {}),
		} {
			if seen[id] {
				t.Fatalf("id %d issued twice", id)
			}
			seen[id] = true
		}
	}
}

func TestHandler_PanicRecovered(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	log := errors.NewLog(16)

	h := NewHandler[int](
		WithBufferSize(1),
		WithLogger(zap.New(core)),
		WithErrorLog(log),
		WithName("quotes"),
	)

	rec := &recorder{}
	id := h.Add(func(int) { panic("boom") })
	h.Add(rec.listener("after"))
	h.AddLowPriority(rec.listener("low"))

	h.Handle(7)

	if calls := rec.get(); len(calls) != 2 {
		t.Fatalf("remaining listeners not called: %v", calls)
	}

	entries := logs.FilterMessage("listener panicked").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["dispatcher"]; got != "quotes" {
		t.Errorf("dispatcher field = %v", got)
	}

	r := log.Last()
	if r.Location != "dispatch/quotes" {
		t.Errorf("location = %q", r.Location)
	}
	if r.GroupID != uint64(id) {
		t.Errorf("group = %d, want listener id %d", r.GroupID, id)
	}
	if !strings.Contains(r.Message, "boom") {
		t.Errorf("message = %q", r.Message)
	}
}

func TestSimpleHandler(t *testing.T) {
	h := NewSimpleHandler[int]()
	rec := &recorder{}

	h.AddLowPriority(rec.listener("low"))
	h.Add(rec.listener("main"))

	h.Handle(1)
	h.Wait()

	calls := rec.get()
	if len(calls) != 2 || calls[0] != "main" || calls[1] != "low" {
		t.Errorf("calls = %v, want [main low]", calls)
	}
}

func TestHandler_ListenerAddedDuringDispatch(t *testing.T) {
	h := NewHandler[int](WithBufferSize(1))
	rec := &recorder{}

	h.Add(func(int) {
		h.Add(rec.listener("late"))
	})

	h.Handle(1)
	if calls := rec.get(); len(calls) != 0 {
		t.Fatalf("listener added mid-dispatch ran in the same dispatch: %v", calls)
	}

	h.Handle(2)
	if calls := rec.get(); len(calls) != 1 {
		t.Errorf("calls = %v, want one late call", calls)
	}
}

func TestHandler_ConcurrentHandle(t *testing.T) {
	h := NewHandler[int](WithBufferSize(8))

	var sum atomic.Int64
	h.Add(func(v int) { sum.Add(int64(v)) })

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				h.Handle(i)
			}
		}()
	}
	wg.Wait()
	h.Wait()

	if want := int64(8 * 5050); sum.Load() != want {
		t.Errorf("sum = %d, want %d", sum.Load(), want)
	}
}
