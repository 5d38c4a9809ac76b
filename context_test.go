package nativebridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/config"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/isolate"
	"github.com/wippyai/native-bridge/isolate/isolatetest"
)

func newTestContext(t *testing.T) (*Context, *isolatetest.Backend) {
	t.Helper()
	b := isolatetest.New()
	c, err := New(context.Background(), b, nil,
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, b
}

func TestNew(t *testing.T) {
	c, b := newTestContext(t)

	if c.Isolate == nil || c.Errors == nil || c.Metrics == nil {
		t.Fatalf("context not fully initialized: %+v", c)
	}
	if b.Creates() != 1 {
		t.Errorf("creates = %d, want 1", b.Creates())
	}
	if c.Errors.Capacity() != config.Default().Errors.Capacity {
		t.Errorf("error log capacity = %d", c.Errors.Capacity())
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Dispatch.BufferSize = 0

	_, err := New(context.Background(), isolatetest.New(), cfg, WithLogger(zap.NewNop()))
	if !errors.IsInvalidArgument(err) {
		t.Errorf("error = %v, want invalid argument", err)
	}
}

func TestNew_CreateFailure(t *testing.T) {
	b := isolatetest.New()
	b.FailCreate(errors.MapHeapFailed)

	_, err := New(context.Background(), b, nil,
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(zap.NewNop()))
	if errors.CodeOf(err) != errors.MapHeapFailed {
		t.Errorf("error = %v, want code %v", err, errors.MapHeapFailed)
	}
}

func TestHandler_FiveListeners(t *testing.T) {
	c, _ := newTestContext(t)
	h := NewHandler[int](c, "numbers")

	var mu sync.Mutex
	var order []string
	record := func(name string) func(int) {
		return func(v int) {
			mu.Lock()
			defer mu.Unlock()
			if v != 42 {
				t.Errorf("%s received %d, want 42", name, v)
			}
			order = append(order, name)
		}
	}

	h.Add(record("m1"))
	h.AddLowPriority(record("l1"))
	h.Add(record("m2"))
	h.AddLowPriority(record("l2"))
	h.Add(record("m3"))

	h.Handle(42)
	h.Wait()

	mu.Lock()
	defer mu.Unlock()
	if got := strings.Join(order, " "); got != "m1 m2 m3 l1 l2" {
		t.Errorf("order = %q, want %q", got, "m1 m2 m3 l1 l2")
	}
}

func TestHandler_PanicRecordedInContextLog(t *testing.T) {
	c, _ := newTestContext(t)
	h := NewSimpleHandler[int](c, "faulty")
	h.Add(func(int) { panic("listener failure") })

	h.Handle(1)

	r := c.LastError()
	if r.Location != "dispatch/faulty" {
		t.Errorf("location = %q", r.Location)
	}
}

func TestRecordError(t *testing.T) {
	c, _ := newTestContext(t)

	if got := c.LastError(); got != errors.NoErrorRecord {
		t.Fatalf("empty log returned %+v", got)
	}

	first := c.RecordError("test", "first")
	second := c.RecordError("test", "second")
	if second.ID != first.ID+1 {
		t.Errorf("ids = %d, %d", first.ID, second.ID)
	}
	if got := c.LastError(); got.Message != "second" {
		t.Errorf("last = %+v", got)
	}
}

func TestRecordError_SharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		c, err := New(ctx, isolatetest.New(), nil, WithRegisterer(reg), WithLogger(zap.NewNop()))
		if err != nil {
			t.Fatalf("New #%d: %v", i, err)
		}
		c.RecordError("bridge", "boom")
		if err := c.Close(ctx); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}

	want := strings.NewReader(`
# HELP native_bridge_errors_recorded_total Records appended to the error log
# TYPE native_bridge_errors_recorded_total counter
native_bridge_errors_recorded_total 2
`)
	if err := testutil.GatherAndCompare(reg, want, "native_bridge_errors_recorded_total"); err != nil {
		t.Error(err)
	}
}

func TestNewHandle_ReleasesThroughIsolate(t *testing.T) {
	c, b := newTestContext(t)

	h := NewHandle[struct{}](c, 0x77)
	h.Release(context.Background())

	if got := b.Released(); len(got) != 1 || got[0] != 0x77 {
		t.Errorf("released = %v, want [0x77]", got)
	}
}

func TestNewRegistry(t *testing.T) {
	c, _ := newTestContext(t)
	r := NewRegistry[string](c, "names")

	id := r.Register("a")
	if v, ok := r.Get(id); !ok || v != "a" {
		t.Errorf("Get = %q, %v", v, ok)
	}
}

func TestCall(t *testing.T) {
	c, _ := newTestContext(t)

	got, err := Call(context.Background(), c, func(_ context.Context, th *isolate.Thread) (uint64, error) {
		return th.Index, nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got == 0 {
		t.Error("thread index must be non-zero")
	}
}

func TestClose_Idempotent(t *testing.T) {
	b := isolatetest.New()
	c, err := New(context.Background(), b, nil,
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if b.TearDowns() != 1 {
		t.Errorf("teardowns = %d, want 1", b.TearDowns())
	}
}

func TestDefaultContext(t *testing.T) {
	ctx := context.Background()

	if _, err := Default(); err == nil {
		t.Fatal("Default succeeded before Init")
	}

	c, err := Init(ctx, isolatetest.New(), nil,
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := Init(ctx, isolatetest.New(), nil, WithLogger(zap.NewNop())); err == nil {
		t.Error("second Init succeeded")
	}

	got, err := Default()
	if err != nil || got != c {
		t.Fatalf("Default = %v, %v", got, err)
	}

	if err := Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if _, err := Default(); err == nil {
		t.Error("Default succeeded after Shutdown")
	}
}

// emptyModule is the smallest valid wasm binary.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestOpen_Wasm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.wasm")
	if err := os.WriteFile(path, emptyModule, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Library.Path = path

	c, err := Open(context.Background(), cfg,
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Isolate.Release(context.Background(), 0x10); err != nil {
		t.Errorf("release without a release export: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  func() *config.Config
	}{
		{"no path", func() *config.Config { return config.Default() }},
		{"missing wasm file", func() *config.Config {
			cfg := config.Default()
			cfg.Library.Path = filepath.Join(t.TempDir(), "missing.wasm")
			return cfg
		}},
		{"invalid config", func() *config.Config {
			cfg := config.Default()
			cfg.Library.Kind = "jvm"
			return cfg
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(context.Background(), tt.cfg(), WithLogger(zap.NewNop())); err == nil {
				t.Error("expected error")
			}
		})
	}
}
