// Package handle owns references to runtime-managed resources.
//
// A Handle wraps a pointer the runtime allocated and guarantees the runtime's
// release routine is called for it at most once, through Release. Null handles
// never reach the runtime. A handle collected while it still owns its pointer
// is reported as leaked; the pointer is not freed, since raw copies obtained
// through Get may still be in use.
//
//	h := handle.New[Session](iso, ptr)
//	defer h.Release(ctx)
//
//	err := h.Use(func(p uintptr) error {
//		return call(ctx, p)
//	})
package handle

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/metrics"
)

// Releaser frees runtime resources. *isolate.Isolate implements it.
type Releaser interface {
	Release(ctx context.Context, ptr uintptr) error
}

// Option configures a Handle.
type Option func(*state)

// WithLogger sets the logger release failures and leaks are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(s *state) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the collectors releases are counted in.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *state) {
		s.metrics = m
	}
}

// state is kept apart from Handle so the leak check can reach it without
// keeping the Handle alive.
type state struct {
	releaser Releaser
	logger   *zap.Logger
	metrics  *metrics.Metrics
	ptr      atomic.Uintptr
}

func (s *state) release(ctx context.Context, ptr uintptr) {
	if s.releaser == nil {
		return
	}
	err := s.releaser.Release(ctx, ptr)
	s.metrics.HandleReleased(err == nil)
	if err != nil {
		s.logger.Debug("handle release failed", zap.Uintptr("ptr", ptr), zap.Error(err))
	}
}

// Handle is an owning reference to a runtime resource of type T.
type Handle[T any] struct {
	st      *state
	cleanup runtime.Cleanup
}

// New takes ownership of ptr. A zero ptr yields a null handle.
func New[T any](r Releaser, ptr uintptr, opts ...Option) *Handle[T] {
	st := &state{releaser: r, logger: Logger()}
	for _, opt := range opts {
		opt(st)
	}
	return wrap[T](st, ptr)
}

// Null returns a handle that owns nothing.
func Null[T any]() *Handle[T] {
	return New[T](nil, 0)
}

func wrap[T any](st *state, ptr uintptr) *Handle[T] {
	st.ptr.Store(ptr)
	h := &Handle[T]{st: st}
	if ptr != 0 {
		h.cleanup = runtime.AddCleanup(h, func(s *state) {
			if p := s.ptr.Load(); p != 0 && s.releaser != nil {
				s.metrics.HandleLeaked()
				s.logger.Warn("handle collected without release", zap.Uintptr("ptr", p))
			}
		}, st)
	}
	return h
}

// Get returns the owned pointer, or zero for a null or released handle. The
// caller must keep h reachable while it uses the pointer; Use does that.
func (h *Handle[T]) Get() uintptr {
	if h == nil {
		return 0
	}
	return h.st.ptr.Load()
}

// Valid reports whether the handle still owns a resource.
func (h *Handle[T]) Valid() bool {
	return h.Get() != 0
}

// Require returns the owned pointer or an invalid argument error for a null
// handle.
func (h *Handle[T]) Require() (uintptr, error) {
	if p := h.Get(); p != 0 {
		return p, nil
	}
	return 0, errors.NullHandle(errors.PhaseCall, typeName[T]())
}

// Use calls fn with the owned pointer and keeps h reachable until fn returns.
// A null or released handle yields an invalid argument error and fn is not
// called.
func (h *Handle[T]) Use(fn func(ptr uintptr) error) error {
	p, err := h.Require()
	if err != nil {
		return err
	}
	err = fn(p)
	runtime.KeepAlive(h)
	return err
}

// Move transfers ownership to a new handle and leaves h null.
func (h *Handle[T]) Move() *Handle[T] {
	if h == nil {
		return Null[T]()
	}
	p := h.st.ptr.Swap(0)
	h.cleanup.Stop()

	st := &state{
		releaser: h.st.releaser,
		logger:   h.st.logger,
		metrics:  h.st.metrics,
	}
	return wrap[T](st, p)
}

// Release hands the resource back to the runtime. Only the first call on a
// non-null handle reaches the runtime; failures are logged and counted.
func (h *Handle[T]) Release(ctx context.Context) {
	if h == nil {
		return
	}
	p := h.st.ptr.Swap(0)
	if p == 0 {
		return
	}
	h.cleanup.Stop()
	h.st.release(ctx, p)
}

func (h *Handle[T]) String() string {
	return fmt.Sprintf("Handle[%s](%#x)", typeName[T](), h.Get())
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}
