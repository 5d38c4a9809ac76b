// Package isolate funnels every call into the embedded runtime through an
// attached thread.
//
// An embedded runtime (a GraalVM native-image isolate, a wasm instance) may only
// be entered from OS threads registered with it. Isolate tracks one Thread per OS
// thread, attaching lazily on first use, and passes the attached Thread to the
// function doing the actual runtime work:
//
//	iso, err := isolate.New(ctx, backend)
//	if err != nil {
//	    return err
//	}
//	defer iso.Close(ctx)
//
//	n, err := isolate.Call(ctx, iso, func(ctx context.Context, t *isolate.Thread) (int, error) {
//	    return backend.Invoke(ctx, "count")
//	})
//
// # Re-entrancy
//
// The attached Thread travels in the context handed to the function. Code that
// is invoked from inside the runtime (callbacks) and receives that context runs
// nested calls on the same Thread without attaching again. Callbacks arriving on
// threads created by the runtime itself enter with ContextWithThread.
//
// # Thread Lifetime
//
// Attachments are kept for the lifetime of the OS thread. The Go scheduler only
// destroys an OS thread when a goroutine exits while locked to it, which this
// package never does, so the set of attached threads is bounded by the threads
// the Go runtime creates. Detach releases the calling thread explicitly and Close
// tears the runtime down. On platforms without an OS thread id every call attaches
// and detaches around the function.
//
// # Concurrency
//
// Only the thread table is guarded by a mutex. Attaching and the function itself
// run outside of it, so calls from different threads are not serialized here.
package isolate
