package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/isolate"
)

// Default names of the runtime contract.
const (
	DefaultHostModule    = "bridge"
	DefaultAttachExport  = "bridge_attach_thread"
	DefaultDetachExport  = "bridge_detach_thread"
	DefaultReleaseExport = "bridge_release"

	notifyImport = "notify"
)

// Trap class names used for managed exceptions raised by the guest.
const (
	TrapClass = "wasm.trap"
	ExitClass = "wasm.exit"
)

// CallbackFunc receives runtime-originated notifications. ctx carries the
// attachment of the call that triggered it.
type CallbackFunc func(ctx context.Context, target, value uint64)

// Config holds configuration for backend creation
type Config struct {
	// MemoryLimitPages sets the maximum memory of the runtime module in pages
	// (64KB each). 0 means the wazero default.
	MemoryLimitPages uint32

	// HostModule names the module that provides the notify import.
	HostModule string

	// Export names of the runtime contract. Empty selects the defaults.
	AttachExport  string
	DetachExport  string
	ReleaseExport string

	// EnableWASI instantiates WASI preview1 before the runtime module.
	EnableWASI bool
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.HostModule == "" {
		out.HostModule = DefaultHostModule
	}
	if out.AttachExport == "" {
		out.AttachExport = DefaultAttachExport
	}
	if out.DetachExport == "" {
		out.DetachExport = DefaultDetachExport
	}
	if out.ReleaseExport == "" {
		out.ReleaseExport = DefaultReleaseExport
	}
	return out
}

type invokeKey struct{}

// WazeroBackend implements isolate.Backend on a wazero-hosted module.
type WazeroBackend struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	module   api.Module
	callback CallbackFunc
	attach   api.Function
	detach   api.Function
	release  api.Function
	cfg      Config
	nextRef  atomic.Uint64
	mu       sync.Mutex
}

// NewWazeroBackend compiles the runtime module. The module is instantiated by
// Create, normally through isolate.New.
func NewWazeroBackend(ctx context.Context, wasm []byte, cfg *Config, callback CallbackFunc) (*WazeroBackend, error) {
	if len(wasm) == 0 {
		return nil, errors.InvalidArgument(errors.PhaseLoad, "runtime module is empty")
	}
	c := cfg.withDefaults()

	runtimeCfg := wazero.NewRuntimeConfig()
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	b := &WazeroBackend{
		runtime:  r,
		callback: callback,
		cfg:      c,
	}

	if c.EnableWASI {
		if _, err := instantiateWASI(ctx, r); err != nil {
			_ = r.Close(ctx)
			return nil, errors.Load("instantiate WASI", err)
		}
	}

	_, err := r.NewHostModuleBuilder(c.HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.notify),
			[]api.ValueType{api.ValueTypeI64, api.ValueTypeI64}, nil).
		WithParameterNames("target", "value").
		Export(notifyImport).
		Instantiate(ctx)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Load("instantiate host module", err)
	}

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Load("compile runtime module", err)
	}
	b.compiled = compiled
	return b, nil
}

func (b *WazeroBackend) notify(ctx context.Context, _ api.Module, stack []uint64) {
	target, value := stack[0], stack[1]
	debugf("notify target=%d value=%d", target, value)
	if b.callback != nil {
		b.callback(ctx, target, value)
	}
}

// Create instantiates the runtime module and attaches the calling thread.
func (b *WazeroBackend) Create(ctx context.Context) (isolate.ThreadRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.module != nil {
		return 0, errors.EntryPoint(errors.PhaseCreate, errors.IsolateInitializationFailed)
	}
	if b.compiled == nil {
		return 0, errors.EntryPoint(errors.PhaseCreate, errors.UninitializedIsolate)
	}

	mod, err := b.runtime.InstantiateModule(ctx, b.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		Logger().Warn("runtime module instantiation failed", zap.Error(err))
		return 0, errors.EntryPoint(errors.PhaseCreate, errors.IsolateInitializationFailed)
	}
	b.module = mod
	b.attach = mod.ExportedFunction(b.cfg.AttachExport)
	b.detach = mod.ExportedFunction(b.cfg.DetachExport)
	b.release = mod.ExportedFunction(b.cfg.ReleaseExport)

	return b.attachLocked(context.WithValue(ctx, invokeKey{}, true), errors.PhaseCreate)
}

// Attach registers a thread with the runtime module.
func (b *WazeroBackend) Attach(ctx context.Context) (isolate.ThreadRef, error) {
	ctx, unlock := b.enter(ctx)
	defer unlock()

	if b.module == nil {
		return 0, errors.EntryPoint(errors.PhaseAttach, errors.UninitializedIsolate)
	}
	return b.attachLocked(ctx, errors.PhaseAttach)
}

// attachLocked expects ctx to hold the guest turn.
func (b *WazeroBackend) attachLocked(ctx context.Context, phase errors.Phase) (isolate.ThreadRef, error) {
	if b.attach == nil {
		return isolate.ThreadRef(b.nextRef.Add(1)), nil
	}
	res, err := b.attach.Call(ctx)
	if err != nil || len(res) == 0 || res[0] == 0 {
		Logger().Debug("attach export failed", zap.Error(err))
		return 0, errors.EntryPoint(phase, errors.ThreadingInitializationFailed)
	}
	return isolate.ThreadRef(res[0]), nil
}

// Detach forgets a thread reference.
func (b *WazeroBackend) Detach(ctx context.Context, t isolate.ThreadRef) error {
	ctx, unlock := b.enter(ctx)
	defer unlock()

	if b.module == nil {
		return errors.EntryPoint(errors.PhaseAttach, errors.UninitializedIsolate)
	}
	if b.detach == nil {
		return nil
	}
	if _, err := b.detach.Call(ctx, uint64(t)); err != nil {
		return errors.EntryPoint(errors.PhaseAttach, errors.UnattachedThread)
	}
	return nil
}

// Release frees ptr through the release export. Modules without one own no
// releasable resources.
func (b *WazeroBackend) Release(ctx context.Context, t isolate.ThreadRef, ptr uintptr) error {
	ctx, unlock := b.enter(ctx)
	defer unlock()

	if b.module == nil {
		return errors.EntryPoint(errors.PhaseRelease, errors.UninitializedIsolate)
	}
	if b.release == nil {
		return nil
	}
	res, err := b.release.Call(ctx, uint64(t), uint64(ptr))
	if err != nil {
		return trapError(err)
	}
	if len(res) > 0 && uint32(res[0]) != 0 {
		return errors.EntryPoint(errors.PhaseRelease, errors.Unspecified)
	}
	return nil
}

// TearDown closes the runtime module and the wazero runtime.
func (b *WazeroBackend) TearDown(ctx context.Context, _ isolate.ThreadRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.module == nil {
		return errors.EntryPoint(errors.PhaseTearDown, errors.UninitializedIsolate)
	}
	b.module = nil
	b.attach, b.detach, b.release = nil, nil, nil

	if err := b.runtime.Close(ctx); err != nil {
		return errors.Wrap(errors.PhaseTearDown, errors.KindEntryPoint, err, "close runtime")
	}
	return nil
}

// Close releases the runtime without tearing down an isolate. Use it when
// isolate.New was never called or failed.
func (b *WazeroBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.module = nil
	return b.runtime.Close(ctx)
}

// enter serializes guest access. Calls made from inside a callback already
// hold the turn and pass through.
func (b *WazeroBackend) enter(ctx context.Context) (context.Context, func()) {
	if ctx.Value(invokeKey{}) != nil {
		return ctx, func() {}
	}
	b.mu.Lock()
	return context.WithValue(ctx, invokeKey{}, true), b.mu.Unlock
}

// Exported reports whether the runtime module exports a function name.
func (b *WazeroBackend) Exported(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.module != nil && b.module.ExportedFunction(name) != nil
}

// Invoke calls the exported function name. ctx must carry an attached thread.
func (b *WazeroBackend) Invoke(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	t, ok := isolate.ThreadFromContext(ctx)
	if !ok {
		return nil, errors.EntryPoint(errors.PhaseCall, errors.UnattachedThread)
	}

	ctx, unlock := b.enter(ctx)
	defer unlock()

	if b.module == nil {
		return nil, errors.EntryPoint(errors.PhaseCall, errors.UninitializedIsolate)
	}
	fn := b.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseCall, "export", name)
	}

	debugf("invoke %s on thread %d", name, t.Index)
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, trapError(err)
	}
	return res, nil
}

// Call invokes name on an attached thread of iso.
func (b *WazeroBackend) Call(ctx context.Context, iso *isolate.Isolate, name string, params ...uint64) ([]uint64, error) {
	return isolate.Call(ctx, iso, func(ctx context.Context, _ *isolate.Thread) ([]uint64, error) {
		return b.Invoke(ctx, name, params...)
	})
}

// trapError converts a guest failure into a managed exception. The first line
// of the wazero error is the message, the rest its wasm stack trace.
func trapError(err error) error {
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return errors.Managed(ExitClass, fmt.Sprintf("module exited with code %d", exit.ExitCode()), "")
	}

	msg, stack, _ := strings.Cut(err.Error(), "\n")
	return errors.Managed(TrapClass, msg, stack)
}

var _ isolate.Backend = (*WazeroBackend)(nil)
