package dispatch

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/metrics"
)

// ListenerID identifies a listener. IDs are unique across all dispatchers of
// the process.
type ListenerID uint64

// InvalidListenerID is returned once IDs are exhausted or for a nil listener.
// Removing it is a no-op.
const InvalidListenerID ListenerID = math.MaxUint64

var lastListenerID atomic.Uint64

func nextListenerID() ListenerID {
	for {
		cur := lastListenerID.Load()
		if cur >= uint64(InvalidListenerID)-1 {
			return InvalidListenerID
		}
		if lastListenerID.CompareAndSwap(cur, cur+1) {
			return ListenerID(cur + 1)
		}
	}
}

// Listener receives dispatched values.
type Listener[A any] func(A)

type listener[A any] struct {
	fn Listener[A]
	id ListenerID
}

// DefaultBufferSize is the number of outstanding dispatches a Handler allows.
const DefaultBufferSize = 1024

// Option configures a dispatcher.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	log     *errors.Log
	metrics *metrics.Metrics
	name    string
	size    int
}

func defaultOptions() options {
	return options{
		logger: Logger(),
		name:   "handler",
		size:   DefaultBufferSize,
	}
}

// WithBufferSize sets how many dispatches a Handler keeps outstanding.
// Values below 1 are ignored.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

// WithLogger sets the logger listener panics are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorLog records listener panics in log.
func WithErrorLog(log *errors.Log) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithMetrics sets the collectors dispatches are counted in.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithName names the dispatcher in logs, metrics and error records.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// listeners holds both tiers. Slices are replaced, never mutated, so a
// dispatch can iterate a snapshot without holding the lock.
type listeners[A any] struct {
	main []listener[A]
	low  []listener[A]
	opts options
	mu   sync.RWMutex
}

func (l *listeners[A]) add(fn Listener[A], low bool) ListenerID {
	if fn == nil {
		return InvalidListenerID
	}
	id := nextListenerID()
	if id == InvalidListenerID {
		return id
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := listener[A]{fn: fn, id: id}
	if low {
		l.low = append(l.low[:len(l.low):len(l.low)], entry)
	} else {
		l.main = append(l.main[:len(l.main):len(l.main)], entry)
	}
	return id
}

// Add registers fn in the main tier.
func (l *listeners[A]) Add(fn Listener[A]) ListenerID {
	return l.add(fn, false)
}

// AddLowPriority registers fn in the low-priority tier, called after every
// main listener.
func (l *listeners[A]) AddLowPriority(fn Listener[A]) ListenerID {
	return l.add(fn, true)
}

// Remove unregisters the listener with the given id from either tier.
// It reports whether a listener was removed.
func (l *listeners[A]) Remove(id ListenerID) bool {
	if id == InvalidListenerID {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if tier, ok := without(l.main, id); ok {
		l.main = tier
		return true
	}
	if tier, ok := without(l.low, id); ok {
		l.low = tier
		return true
	}
	return false
}

func without[A any](tier []listener[A], id ListenerID) ([]listener[A], bool) {
	for i := range tier {
		if tier[i].id == id {
			out := make([]listener[A], 0, len(tier)-1)
			out = append(out, tier[:i]...)
			return append(out, tier[i+1:]...), true
		}
	}
	return tier, false
}

// Len returns the number of listeners in both tiers.
func (l *listeners[A]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.main) + len(l.low)
}

func (l *listeners[A]) snapshot() (main, low []listener[A]) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.main, l.low
}

// launch starts one dispatch of arg and returns a channel closed when every
// listener has been called.
func (l *listeners[A]) launch(arg A) <-chan struct{} {
	main, low := l.snapshot()
	done := make(chan struct{})

	l.opts.metrics.DispatchStarted(l.opts.name)
	go func() {
		defer close(done)
		defer l.opts.metrics.DispatchFinished(l.opts.name)

		for _, e := range main {
			l.call(e, arg)
		}
		for _, e := range low {
			l.call(e, arg)
		}
	}()
	return done
}

func (l *listeners[A]) call(e listener[A], arg A) {
	defer func() {
		if r := recover(); r != nil {
			l.recovered(e.id, r)
		}
	}()
	e.fn(arg)
}

func (l *listeners[A]) recovered(id ListenerID, r any) {
	l.opts.logger.Error("listener panicked",
		zap.String("dispatcher", l.opts.name),
		zap.Uint64("listener", uint64(id)),
		zap.Any("panic", r),
		zap.Stack("stack"))
	l.opts.metrics.ListenerPanicked(l.opts.name)

	if l.opts.log != nil {
		location := "dispatch/" + l.opts.name
		l.opts.log.Register(errors.NewRecord(errors.UnknownID, uint64(id), location, fmt.Sprintf("listener panicked: %v", r)))
		l.opts.metrics.ErrorRecorded()
	}
}
