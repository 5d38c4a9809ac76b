package isolate

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/internal/osthread"
)

type threadKey struct{}

func withThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFromContext returns the attachment carried by ctx, if any.
func ThreadFromContext(ctx context.Context) (*Thread, bool) {
	if ctx == nil {
		return nil, false
	}
	t, ok := ctx.Value(threadKey{}).(*Thread)
	return t, ok && t != nil
}

// ContextWithThread marks ctx as running on a thread the runtime attached
// itself, such as the thread of a callback. Calls made with the returned
// context reuse ref instead of attaching.
func ContextWithThread(ctx context.Context, iso *Isolate, ref ThreadRef) context.Context {
	tid, _ := osthread.ID()
	return withThread(ctx, newThread(iso, ref, tid, false))
}

// Run executes fn on an attached thread of iso. The calling OS thread is
// attached on first use and stays attached. When attaching fails fn is not
// called and the failure code is returned with the zero value.
//
// Calls made with the context passed to fn reuse the same attachment.
func Run[T any](ctx context.Context, iso *Isolate, fn func(context.Context, *Thread) T) (T, errors.Code) {
	var zero T
	if iso == nil {
		return zero, errors.UninitializedIsolate
	}

	ctx, t, done, code := iso.acquire(ctx)
	if code != errors.NoError {
		return zero, code
	}
	defer done()

	return fn(ctx, t), errors.NoError
}

// RunOrElse is Run that maps every failure to def.
func RunOrElse[T any](ctx context.Context, iso *Isolate, fn func(context.Context, *Thread) T, def T) T {
	v, code := Run(ctx, iso, fn)
	if code != errors.NoError {
		return def
	}
	return v
}

// Call executes fn on an attached thread and reports attach failures as
// *errors.EntryPointError. Each call is traced as an "isolate.call" span.
func Call[T any](ctx context.Context, iso *Isolate, fn func(context.Context, *Thread) (T, error)) (T, error) {
	var zero T
	if fn == nil {
		return zero, errors.InvalidArgument(errors.PhaseCall, "function is nil")
	}
	if iso == nil {
		return zero, errors.EntryPoint(errors.PhaseCall, errors.UninitializedIsolate)
	}

	ctx, span := iso.tracer.Start(ctx, "isolate.call", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	ctx, t, done, code := iso.acquire(ctx)
	if code != errors.NoError {
		err := errors.EntryPoint(errors.PhaseAttach, code)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	defer done()

	span.SetAttributes(
		attribute.Int64("isolate.thread.index", int64(t.Index)),
		attribute.Bool("isolate.thread.main", t.Main),
	)

	v, err := fn(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}
