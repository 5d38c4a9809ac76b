package isolate

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/internal/osthread"
	"github.com/wippyai/native-bridge/metrics"
)

// TracerName identifies spans started by this package.
const TracerName = "github.com/wippyai/native-bridge/isolate"

// ThreadRef is the runtime's opaque reference to an attached thread.
type ThreadRef uintptr

// Backend is the embedding contract of a runtime. Failures are reported as
// *errors.EntryPointError; other errors are treated as errors.Unspecified.
type Backend interface {
	// Create initializes the runtime and returns the calling thread's reference.
	Create(ctx context.Context) (ThreadRef, error)

	// Attach registers the calling OS thread with the runtime.
	Attach(ctx context.Context) (ThreadRef, error)

	// Detach unregisters an attached thread.
	Detach(ctx context.Context, t ThreadRef) error

	// Release frees a runtime-owned resource referenced by ptr.
	Release(ctx context.Context, t ThreadRef, ptr uintptr) error

	// TearDown detaches every thread and destroys the runtime.
	TearDown(ctx context.Context, t ThreadRef) error
}

// threadIndex numbers Thread records process-wide.
var threadIndex atomic.Uint64

// Thread is the attachment record of one OS thread.
type Thread struct {
	iso   *Isolate
	Ref   ThreadRef
	TID   uint64
	Index uint64
	Main  bool
}

func newThread(iso *Isolate, ref ThreadRef, tid uint64, main bool) *Thread {
	return &Thread{
		iso:   iso,
		Ref:   ref,
		TID:   tid,
		Index: threadIndex.Add(1),
		Main:  main,
	}
}

// Isolate returns the isolate the thread is attached to.
func (t *Thread) Isolate() *Isolate {
	return t.iso
}

func (t *Thread) String() string {
	return fmt.Sprintf("Thread{ref=%#x, tid=%d, index=%d, main=%t}", uintptr(t.Ref), t.TID, t.Index, t.Main)
}

// Option configures an Isolate.
type Option func(*Isolate)

// WithLogger sets the logger used by the isolate.
func WithLogger(l *zap.Logger) Option {
	return func(iso *Isolate) {
		if l != nil {
			iso.logger = l
		}
	}
}

// WithMetrics sets the collectors the isolate records into.
func WithMetrics(m *metrics.Metrics) Option {
	return func(iso *Isolate) {
		iso.metrics = m
	}
}

// WithTracer sets the tracer used for Call spans.
func WithTracer(t trace.Tracer) Option {
	return func(iso *Isolate) {
		if t != nil {
			iso.tracer = t
		}
	}
}

// Isolate is a created runtime plus the table of OS threads attached to it.
type Isolate struct {
	backend Backend
	threads map[uint64]*Thread
	main    *Thread
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	mu      sync.Mutex
	closed  atomic.Bool
}

// New creates the runtime through backend. The calling OS thread becomes the
// isolate's main thread.
func New(ctx context.Context, backend Backend, opts ...Option) (*Isolate, error) {
	if backend == nil {
		return nil, errors.InvalidArgument(errors.PhaseCreate, "backend is nil")
	}

	iso := &Isolate{
		backend: backend,
		threads: make(map[uint64]*Thread),
		logger:  Logger(),
		tracer:  otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(iso)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ref, err := backend.Create(ctx)
	if err != nil {
		return nil, entryPointErr(errors.PhaseCreate, err)
	}

	tid, ok := osthread.ID()
	iso.main = newThread(iso, ref, tid, true)
	if ok {
		iso.threads[tid] = iso.main
	}
	iso.metrics.AttachSucceeded()

	iso.logger.Debug("isolate created", zap.Stringer("main", iso.main))
	return iso, nil
}

// Backend returns the backend the isolate was created with.
func (iso *Isolate) Backend() Backend {
	return iso.backend
}

// Main returns the thread that created the isolate.
func (iso *Isolate) Main() *Thread {
	return iso.main
}

// Threads returns a snapshot of the attached threads ordered by index.
func (iso *Isolate) Threads() []Thread {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	out := make([]Thread, 0, len(iso.threads))
	for _, t := range iso.threads {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Closed reports whether Close was called.
func (iso *Isolate) Closed() bool {
	return iso.closed.Load()
}

// acquire returns a context carrying the calling thread's attachment. The
// returned func must be called once the runtime work is done.
func (iso *Isolate) acquire(ctx context.Context) (context.Context, *Thread, func(), errors.Code) {
	if t, ok := ThreadFromContext(ctx); ok && t.iso == iso && iso.onThread(t) {
		if iso.closed.Load() {
			return ctx, nil, nil, errors.UninitializedIsolate
		}
		iso.metrics.CallEntered(true)
		return ctx, t, func() {}, errors.NoError
	}

	runtime.LockOSThread()

	t, ephemeral, code := iso.current(ctx)
	if code != errors.NoError {
		runtime.UnlockOSThread()
		return ctx, nil, nil, code
	}
	iso.metrics.CallEntered(false)

	done := func() {
		if ephemeral {
			iso.detachRef(ctx, t)
		}
		runtime.UnlockOSThread()
	}
	return withThread(ctx, t), t, done, errors.NoError
}

// onThread reports whether the caller runs on the OS thread t was attached on.
// Threads without a known id cannot be checked and are trusted.
func (iso *Isolate) onThread(t *Thread) bool {
	if t.TID == 0 {
		return true
	}
	tid, ok := osthread.ID()
	return !ok || tid == t.TID
}

// current returns the attachment of the calling OS thread, attaching it on
// first use. The caller must hold the OS thread locked. Ephemeral attachments
// are not tracked and must be detached after use.
func (iso *Isolate) current(ctx context.Context) (*Thread, bool, errors.Code) {
	tid, hasTID := osthread.ID()

	iso.mu.Lock()
	if iso.closed.Load() {
		iso.mu.Unlock()
		return nil, false, errors.UninitializedIsolate
	}
	if hasTID {
		if t := iso.threads[tid]; t != nil {
			iso.mu.Unlock()
			return t, false, errors.NoError
		}
	}
	iso.mu.Unlock()

	// Only this OS thread can attach itself, so no other caller races for tid.
	ref, err := iso.backend.Attach(ctx)
	if err != nil {
		code := errors.CodeOf(err)
		if code == errors.NoError {
			code = errors.Unspecified
		}
		iso.metrics.AttachFailed(uint32(code))
		iso.logger.Debug("thread attach failed",
			zap.Uint64("tid", tid),
			zap.Uint32("code", uint32(code)),
			zap.Error(err))
		return nil, false, code
	}

	t := newThread(iso, ref, tid, false)
	iso.metrics.AttachSucceeded()

	if !hasTID {
		return t, true, errors.NoError
	}

	iso.mu.Lock()
	if iso.closed.Load() {
		iso.mu.Unlock()
		iso.detachRef(ctx, t)
		return nil, false, errors.UninitializedIsolate
	}
	iso.threads[tid] = t
	iso.mu.Unlock()

	iso.logger.Debug("thread attached", zap.Stringer("thread", t))
	return t, false, errors.NoError
}

func (iso *Isolate) detachRef(ctx context.Context, t *Thread) {
	if err := iso.backend.Detach(ctx, t.Ref); err != nil {
		iso.logger.Debug("thread detach failed", zap.Stringer("thread", t), zap.Error(err))
		return
	}
	iso.metrics.Detached()
}

// Detach detaches the calling OS thread. The main thread stays attached until
// Close. Detaching a thread that is not attached is a no-op.
func (iso *Isolate) Detach(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tid, ok := osthread.ID()
	if !ok {
		return nil
	}

	iso.mu.Lock()
	t := iso.threads[tid]
	if t == nil || t.Main || iso.closed.Load() {
		iso.mu.Unlock()
		return nil
	}
	delete(iso.threads, tid)
	iso.mu.Unlock()

	if err := iso.backend.Detach(ctx, t.Ref); err != nil {
		return entryPointErr(errors.PhaseAttach, err)
	}
	iso.metrics.Detached()
	iso.logger.Debug("thread detached", zap.Stringer("thread", t))
	return nil
}

// Release frees the runtime resource ptr through an attached thread.
// A zero ptr is a no-op.
func (iso *Isolate) Release(ctx context.Context, ptr uintptr) error {
	if ptr == 0 {
		return nil
	}
	err, code := Run(ctx, iso, func(ctx context.Context, t *Thread) error {
		return iso.backend.Release(ctx, t.Ref, ptr)
	})
	if code != errors.NoError {
		return errors.EntryPoint(errors.PhaseRelease, code)
	}
	if err != nil {
		return entryPointErr(errors.PhaseRelease, err)
	}
	return nil
}

// Close tears the runtime down. Every later call reports
// errors.UninitializedIsolate.
func (iso *Isolate) Close(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tid, hasTID := osthread.ID()

	iso.mu.Lock()
	if iso.closed.Load() {
		iso.mu.Unlock()
		return nil
	}
	iso.closed.Store(true)
	t := iso.main
	if hasTID {
		if own := iso.threads[tid]; own != nil {
			t = own
		}
	}
	attached := len(iso.threads)
	iso.threads = make(map[uint64]*Thread)
	iso.mu.Unlock()

	if !hasTID || t.TID != tid {
		ref, err := iso.backend.Attach(ctx)
		if err != nil {
			return entryPointErr(errors.PhaseTearDown, err)
		}
		t = newThread(iso, ref, tid, false)
		attached++
	}

	if err := iso.backend.TearDown(ctx, t.Ref); err != nil {
		return entryPointErr(errors.PhaseTearDown, err)
	}
	for i := 0; i < attached; i++ {
		iso.metrics.Detached()
	}

	iso.logger.Debug("isolate closed", zap.Int("threads", attached))
	return nil
}

func entryPointErr(phase errors.Phase, err error) error {
	var ep *errors.EntryPointError
	if errors.As(err, &ep) {
		return err
	}
	return errors.Wrap(phase, errors.KindEntryPoint, err, "runtime backend failure")
}
