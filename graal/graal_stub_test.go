//go:build !graal || !cgo

package graal

import (
	"context"
	"testing"

	"github.com/wippyai/native-bridge/errors"
)

func TestOpen_Unsupported(t *testing.T) {
	_, err := Open("/nonexistent/lib.so", Options{})
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindUnsupported {
		t.Fatalf("error = %v, want unsupported", err)
	}

	var b Backend
	if _, err := b.Create(context.Background()); err == nil {
		t.Error("Create succeeded without a graal build")
	}
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{ReleaseSymbol: "custom_release"}.withDefaults()
	if o.ReleaseSymbol != "custom_release" {
		t.Errorf("release symbol = %q", o.ReleaseSymbol)
	}
	if o.ExceptionSymbol != DefaultExceptionSymbol || o.ExceptionReleaseSymbol != DefaultExceptionReleaseSymbol {
		t.Errorf("defaults not applied: %+v", o)
	}
}
