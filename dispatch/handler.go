package dispatch

import "sync"

// Dispatcher is the behavior shared by Handler and SimpleHandler.
type Dispatcher[A any] interface {
	Add(fn Listener[A]) ListenerID
	AddLowPriority(fn Listener[A]) ListenerID
	Remove(id ListenerID) bool
	Handle(arg A)
	Wait()
	Len() int
}

var (
	_ Dispatcher[int] = (*Handler[int])(nil)
	_ Dispatcher[int] = (*SimpleHandler[int])(nil)
)

// Handler dispatches asynchronously with a bounded number of outstanding
// dispatches.
type Handler[A any] struct {
	listeners[A]

	ring    []<-chan struct{}
	head    int
	pending int
	mu      sync.Mutex
}

// NewHandler creates a Handler keeping DefaultBufferSize dispatches
// outstanding unless WithBufferSize says otherwise.
func NewHandler[A any](opts ...Option) *Handler[A] {
	h := &Handler[A]{}
	h.opts = defaultOptions()
	for _, opt := range opts {
		opt(&h.opts)
	}
	h.ring = make([]<-chan struct{}, h.opts.size)
	return h
}

// Handle starts a dispatch of arg. If the buffer is full it then waits for
// the oldest outstanding dispatch.
func (h *Handler[A]) Handle(arg A) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[(h.head+h.pending)%len(h.ring)] = h.launch(arg)
	h.pending++

	if h.pending == len(h.ring) {
		h.popLocked()
	}
}

// Wait blocks until every outstanding dispatch has completed.
func (h *Handler[A]) Wait() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.pending > 0 {
		h.popLocked()
	}
}

func (h *Handler[A]) popLocked() {
	<-h.ring[h.head]
	h.ring[h.head] = nil
	h.head = (h.head + 1) % len(h.ring)
	h.pending--
}

// BufferSize returns the maximum number of outstanding dispatches.
func (h *Handler[A]) BufferSize() int {
	return len(h.ring)
}

// SimpleHandler dispatches on another goroutine and waits for completion.
type SimpleHandler[A any] struct {
	listeners[A]

	mu sync.Mutex
}

// NewSimpleHandler creates a SimpleHandler. WithBufferSize has no effect.
func NewSimpleHandler[A any](opts ...Option) *SimpleHandler[A] {
	h := &SimpleHandler[A]{}
	h.opts = defaultOptions()
	for _, opt := range opts {
		opt(&h.opts)
	}
	return h
}

// Handle dispatches arg and returns once every listener has been called.
func (h *SimpleHandler[A]) Handle(arg A) {
	h.mu.Lock()
	defer h.mu.Unlock()

	<-h.launch(arg)
}

// Wait returns immediately: Handle never leaves a dispatch outstanding.
func (h *SimpleHandler[A]) Wait() {}
