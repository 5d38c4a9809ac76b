package nativebridge

import (
	"context"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/config"
	"github.com/wippyai/native-bridge/dispatch"
	"github.com/wippyai/native-bridge/engine"
	"github.com/wippyai/native-bridge/entity"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/graal"
	"github.com/wippyai/native-bridge/handle"
	"github.com/wippyai/native-bridge/isolate"
	"github.com/wippyai/native-bridge/metrics"
)

// Context owns one runtime and the services built around it.
type Context struct {
	Config  *config.Config
	Isolate *isolate.Isolate
	Errors  *errors.Log
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	closers []func(context.Context) error
	once    sync.Once
	err     error
}

// Option configures New and Open.
type Option func(*settings)

type settings struct {
	registerer prometheus.Registerer
	logger     *zap.Logger
	tracer     trace.Tracer
	callback   engine.CallbackFunc
}

// WithRegisterer registers the collectors with r instead of
// prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = r
	}
}

// WithLogger uses l instead of the logger described by the configuration.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithTracer sets the tracer for runtime calls.
func WithTracer(t trace.Tracer) Option {
	return func(s *settings) {
		s.tracer = t
	}
}

// WithCallback receives notifications from a wasm runtime opened by Open.
func WithCallback(fn engine.CallbackFunc) Option {
	return func(s *settings) {
		s.callback = fn
	}
}

// New creates the runtime through backend. A nil cfg selects config.Default.
func New(ctx context.Context, backend isolate.Backend, cfg *config.Config, opts ...Option) (*Context, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return newContext(ctx, backend, cfg, s)
}

func newContext(ctx context.Context, backend isolate.Backend, cfg *config.Config, s settings) (*Context, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := s.logger
	if logger == nil {
		var err error
		if logger, err = cfg.Logging.Build(); err != nil {
			return nil, err
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(s.registerer, cfg.Metrics.Namespace)
		if err := m.Register(); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "register metrics")
		}
	}

	isoOpts := []isolate.Option{
		isolate.WithLogger(logger.Named("isolate")),
		isolate.WithMetrics(m),
	}
	if s.tracer != nil {
		isoOpts = append(isoOpts, isolate.WithTracer(s.tracer))
	}
	iso, err := isolate.New(ctx, backend, isoOpts...)
	if err != nil {
		return nil, err
	}

	logger.Info("native bridge started",
		zap.String("library", cfg.Library.Kind),
		zap.Stringer("main", iso.Main()))

	return &Context{
		Config:  cfg,
		Isolate: iso,
		Errors:  errors.NewLog(cfg.Errors.Capacity),
		Metrics: m,
		Logger:  logger,
	}, nil
}

// Open loads the library described by cfg.Library and creates its runtime.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Context, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Library.Path == "" {
		return nil, errors.InvalidArgument(errors.PhaseLoad, "library.path is empty")
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	switch cfg.Library.Kind {
	case config.KindGraal:
		b, err := graal.Open(cfg.Library.Path, graal.Options{
			ReleaseSymbol:          cfg.Graal.ReleaseSymbol,
			ExceptionSymbol:        cfg.Graal.ExceptionSymbol,
			ExceptionReleaseSymbol: cfg.Graal.ExceptionReleaseSymbol,
		})
		if err != nil {
			return nil, err
		}
		c, err := newContext(ctx, b, cfg, s)
		if err != nil {
			return nil, multierr.Append(err, b.Close())
		}
		c.closers = append(c.closers, func(context.Context) error { return b.Close() })
		return c, nil

	default:
		wasm, err := os.ReadFile(cfg.Library.Path)
		if err != nil {
			return nil, errors.Load("read runtime module", err)
		}
		b, err := engine.NewWazeroBackend(ctx, wasm, &engine.Config{
			MemoryLimitPages: cfg.Wasm.MemoryLimitPages,
			HostModule:       cfg.Wasm.HostModule,
			AttachExport:     cfg.Wasm.AttachExport,
			DetachExport:     cfg.Wasm.DetachExport,
			ReleaseExport:    cfg.Wasm.ReleaseExport,
			EnableWASI:       cfg.Wasm.EnableWASI,
		}, s.callback)
		if err != nil {
			return nil, err
		}
		c, err := newContext(ctx, b, cfg, s)
		if err != nil {
			return nil, multierr.Append(err, b.Close(ctx))
		}
		return c, nil
	}
}

// RecordError appends a record to the context's error log.
func (c *Context) RecordError(location, message string) errors.Record {
	r := c.Errors.Register(errors.NewRecord(errors.UnknownID, 0, location, message))
	c.Metrics.ErrorRecorded()
	c.Logger.Debug("error recorded",
		zap.Uint64("id", r.ID),
		zap.String("location", location),
		zap.String("message", message))
	return r
}

// LastError returns the most recent record, or errors.NoErrorRecord.
func (c *Context) LastError() errors.Record {
	return c.Errors.Last()
}

// Close tears the runtime down and releases the library. Later calls return
// the result of the first.
func (c *Context) Close(ctx context.Context) error {
	c.once.Do(func() {
		err := c.Isolate.Close(ctx)
		for _, closer := range c.closers {
			err = multierr.Append(err, closer(ctx))
		}
		c.err = err
		c.Logger.Info("native bridge stopped", zap.Error(err))
	})
	return c.err
}

// NewHandler creates a Handler wired to c's configuration, logger, error log
// and metrics. opts override the defaults.
func NewHandler[A any](c *Context, name string, opts ...dispatch.Option) *dispatch.Handler[A] {
	return dispatch.NewHandler[A](c.dispatchOptions(name, opts)...)
}

// NewSimpleHandler is NewHandler for a SimpleHandler.
func NewSimpleHandler[A any](c *Context, name string, opts ...dispatch.Option) *dispatch.SimpleHandler[A] {
	return dispatch.NewSimpleHandler[A](c.dispatchOptions(name, opts)...)
}

func (c *Context) dispatchOptions(name string, opts []dispatch.Option) []dispatch.Option {
	return append([]dispatch.Option{
		dispatch.WithBufferSize(c.Config.Dispatch.BufferSize),
		dispatch.WithLogger(c.Logger.Named("dispatch")),
		dispatch.WithErrorLog(c.Errors),
		dispatch.WithMetrics(c.Metrics),
		dispatch.WithName(name),
	}, opts...)
}

// NewRegistry creates a registry reporting its size under name.
func NewRegistry[T comparable](c *Context, name string) *entity.Registry[T] {
	return entity.NewRegistry[T](entity.WithMetrics(c.Metrics, name))
}

// NewHandle takes ownership of ptr, released through c's isolate.
func NewHandle[T any](c *Context, ptr uintptr) *handle.Handle[T] {
	return handle.New[T](c.Isolate, ptr,
		handle.WithLogger(c.Logger.Named("handle")),
		handle.WithMetrics(c.Metrics))
}

// Call runs fn on an attached thread of c's isolate.
func Call[T any](ctx context.Context, c *Context, fn func(context.Context, *isolate.Thread) (T, error)) (T, error) {
	return isolate.Call(ctx, c.Isolate, fn)
}

var (
	defaultMu  sync.Mutex
	defaultCtx *Context
)

// Init creates the process-wide Context.
func Init(ctx context.Context, backend isolate.Backend, cfg *config.Config, opts ...Option) (*Context, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultCtx != nil {
		return nil, errors.New(errors.PhaseCreate, errors.KindInvalidArgument).
			Op("init").
			Detail("default context already initialized").
			Build()
	}
	c, err := New(ctx, backend, cfg, opts...)
	if err != nil {
		return nil, err
	}
	defaultCtx = c
	return c, nil
}

// Default returns the process-wide Context installed by Init.
func Default() (*Context, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultCtx == nil {
		return nil, errors.NotInitialized(errors.PhaseCall, "default context")
	}
	return defaultCtx, nil
}

// Shutdown closes and removes the process-wide Context. It is a no-op if Init
// was not called.
func Shutdown(ctx context.Context) error {
	defaultMu.Lock()
	c := defaultCtx
	defaultCtx = nil
	defaultMu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close(ctx)
}
