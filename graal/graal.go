//go:build graal && cgo

package graal

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef struct graal_isolate_t graal_isolate_t;
typedef struct graal_isolatethread_t graal_isolatethread_t;

// Leading fields of dxfg_exception_t.
typedef struct {
	void *handle;
	const char *class_name;
	const char *message;
	const char *print_stack_trace;
} bridge_exception_t;

typedef int (*bridge_create_fn)(void *, graal_isolate_t **, graal_isolatethread_t **);
typedef int (*bridge_attach_fn)(graal_isolate_t *, graal_isolatethread_t **);
typedef int (*bridge_thread_fn)(graal_isolatethread_t *);
typedef int (*bridge_release_fn)(graal_isolatethread_t *, void *);
typedef void *(*bridge_exception_fn)(graal_isolatethread_t *);

static int bridge_create(void *f, graal_isolate_t **iso, graal_isolatethread_t **thread) {
	return ((bridge_create_fn)f)(NULL, iso, thread);
}

static int bridge_attach(void *f, graal_isolate_t *iso, graal_isolatethread_t **thread) {
	return ((bridge_attach_fn)f)(iso, thread);
}

static int bridge_thread(void *f, graal_isolatethread_t *thread) {
	return ((bridge_thread_fn)f)(thread);
}

static int bridge_release(void *f, graal_isolatethread_t *thread, void *ptr) {
	return ((bridge_release_fn)f)(thread, ptr);
}

static void *bridge_exception(void *f, graal_isolatethread_t *thread) {
	return ((bridge_exception_fn)f)(thread);
}
*/
import "C"

import (
	"context"
	"sync"
	"unsafe"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/isolate"
)

// Backend calls the graal_* entry points of a native-image library.
type Backend struct {
	lib      unsafe.Pointer
	iso      *C.graal_isolate_t
	create   unsafe.Pointer
	attach   unsafe.Pointer
	detach   unsafe.Pointer
	teardown unsafe.Pointer
	release  unsafe.Pointer
	excGet   unsafe.Pointer
	excFree  unsafe.Pointer
	mu       sync.Mutex
}

// Open loads the library at path and resolves its entry points.
func Open(path string, opts Options) (*Backend, error) {
	opts = opts.withDefaults()

	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	lib := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_LOCAL)
	if lib == nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Op("dlopen").
			Value(path).
			Detail("%s", C.GoString(C.dlerror())).
			Build()
	}

	b := &Backend{lib: lib}
	required := []struct {
		name string
		dst  *unsafe.Pointer
	}{
		{"graal_create_isolate", &b.create},
		{"graal_attach_thread", &b.attach},
		{"graal_detach_thread", &b.detach},
		{"graal_detach_all_threads_and_tear_down_isolate", &b.teardown},
	}
	for _, s := range required {
		p, err := b.Symbol(s.name)
		if err != nil {
			C.dlclose(lib)
			return nil, err
		}
		*s.dst = p
	}

	// Optional: a library without them has nothing to release.
	b.release, _ = b.Symbol(opts.ReleaseSymbol)
	b.excGet, _ = b.Symbol(opts.ExceptionSymbol)
	b.excFree, _ = b.Symbol(opts.ExceptionReleaseSymbol)
	return b, nil
}

// Symbol resolves name in the library.
func (b *Backend) Symbol(name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	p := C.dlsym(b.lib, cname)
	if p == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "symbol", name)
	}
	return p, nil
}

func thread(t isolate.ThreadRef) *C.graal_isolatethread_t {
	return (*C.graal_isolatethread_t)(unsafe.Pointer(uintptr(t)))
}

func ref(t *C.graal_isolatethread_t) isolate.ThreadRef {
	return isolate.ThreadRef(uintptr(unsafe.Pointer(t)))
}

func (b *Backend) Create(context.Context) (isolate.ThreadRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.iso != nil {
		return 0, errors.EntryPoint(errors.PhaseCreate, errors.IsolateInitializationFailed)
	}
	var iso *C.graal_isolate_t
	var t *C.graal_isolatethread_t
	if code := C.bridge_create(b.create, &iso, &t); code != 0 {
		return 0, errors.EntryPoint(errors.PhaseCreate, errors.Code(code))
	}
	b.iso = iso
	return ref(t), nil
}

func (b *Backend) Attach(context.Context) (isolate.ThreadRef, error) {
	b.mu.Lock()
	iso := b.iso
	b.mu.Unlock()

	if iso == nil {
		return 0, errors.EntryPoint(errors.PhaseAttach, errors.UninitializedIsolate)
	}
	var t *C.graal_isolatethread_t
	if code := C.bridge_attach(b.attach, iso, &t); code != 0 {
		return 0, errors.EntryPoint(errors.PhaseAttach, errors.Code(code))
	}
	return ref(t), nil
}

func (b *Backend) Detach(_ context.Context, t isolate.ThreadRef) error {
	if code := C.bridge_thread(b.detach, thread(t)); code != 0 {
		return errors.EntryPoint(errors.PhaseAttach, errors.Code(code))
	}
	return nil
}

// Release hands ptr to the configured release symbol. A -1 result reports a
// pending exception.
func (b *Backend) Release(_ context.Context, t isolate.ThreadRef, ptr uintptr) error {
	if b.release == nil {
		return nil
	}
	if C.bridge_release(b.release, thread(t), unsafe.Pointer(ptr)) != 0 {
		if err := b.PendingException(t); err != nil {
			return err
		}
		return errors.EntryPoint(errors.PhaseRelease, errors.Unspecified)
	}
	return nil
}

func (b *Backend) TearDown(_ context.Context, t isolate.ThreadRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if code := C.bridge_thread(b.teardown, thread(t)); code != 0 {
		return errors.EntryPoint(errors.PhaseTearDown, errors.Code(code))
	}
	b.iso = nil
	return nil
}

// PendingException returns and clears the exception left on thread t, or nil.
func (b *Backend) PendingException(t isolate.ThreadRef) error {
	if b.excGet == nil {
		return nil
	}
	p := C.bridge_exception(b.excGet, thread(t))
	if p == nil {
		return nil
	}
	exc := (*C.bridge_exception_t)(p)
	err := errors.Managed(
		goString(exc.class_name),
		goString(exc.message),
		goString(exc.print_stack_trace),
	)
	if b.excFree != nil {
		C.bridge_release(b.excFree, thread(t), p)
	}
	return err
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

// Close unloads the library. The isolate must be torn down first.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lib == nil {
		return nil
	}
	if C.dlclose(b.lib) != 0 {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Op("dlclose").
			Detail("%s", C.GoString(C.dlerror())).
			Build()
	}
	b.lib = nil
	return nil
}

var _ isolate.Backend = (*Backend)(nil)
