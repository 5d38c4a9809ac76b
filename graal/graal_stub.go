//go:build !graal || !cgo

package graal

import (
	"context"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/isolate"
)

// Backend is unavailable in this build.
type Backend struct{}

func unsupported() error {
	return errors.Unsupported(errors.PhaseLoad, "graal backend (build with -tags graal and cgo)")
}

// Open reports that the graal backend was not compiled in.
func Open(string, Options) (*Backend, error) {
	return nil, unsupported()
}

func (*Backend) Create(context.Context) (isolate.ThreadRef, error) { return 0, unsupported() }
func (*Backend) Attach(context.Context) (isolate.ThreadRef, error) { return 0, unsupported() }
func (*Backend) Detach(context.Context, isolate.ThreadRef) error { return unsupported() }
func (*Backend) Release(context.Context, isolate.ThreadRef, uintptr) error { return unsupported() }
func (*Backend) TearDown(context.Context, isolate.ThreadRef) error { return unsupported() }

// PendingException always returns nil.
func (*Backend) PendingException(isolate.ThreadRef) error { return nil }

// Close is a no-op.
func (*Backend) Close() error { return nil }

var _ isolate.Backend = (*Backend)(nil)
