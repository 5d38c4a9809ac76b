// Package graal loads a GraalVM native-image shared library and exposes it as
// an isolate.Backend.
//
// The real implementation needs cgo and the graal build tag:
//
//	go build -tags graal ./...
//
// Without them Open reports an unsupported error, so code depending on this
// package still builds.
//
//	b, err := graal.Open("/opt/app/libdxfeed.so", graal.Options{})
//	if err != nil {
//		return err
//	}
//	iso, err := isolate.New(ctx, b)
//
// After an entry point of the library fails, PendingException retrieves and
// clears the exception the runtime left on the calling thread.
package graal

// Default symbol names of a dxFeed native-image library.
const (
	DefaultReleaseSymbol          = "dxfg_JavaObjectHandler_release"
	DefaultExceptionSymbol        = "dxfg_get_and_clear_thread_exception_t"
	DefaultExceptionReleaseSymbol = "dxfg_Exception_release"
)

// Options selects the library-specific symbols. Empty fields select the
// defaults.
type Options struct {
	ReleaseSymbol          string
	ExceptionSymbol        string
	ExceptionReleaseSymbol string
}

func (o Options) withDefaults() Options {
	if o.ReleaseSymbol == "" {
		o.ReleaseSymbol = DefaultReleaseSymbol
	}
	if o.ExceptionSymbol == "" {
		o.ExceptionSymbol = DefaultExceptionSymbol
	}
	if o.ExceptionReleaseSymbol == "" {
		o.ExceptionReleaseSymbol = DefaultExceptionReleaseSymbol
	}
	return o
}
