// Package engine hosts an embedded runtime compiled to WebAssembly and exposes
// it as an isolate.Backend.
//
// The runtime module talks to the host through a small contract. Every export
// is optional:
//
//	bridge_attach_thread () -> i64         returns the new thread reference
//	bridge_detach_thread (i64) -> ()       forgets a thread reference
//	bridge_release       (i32, i32) -> i32 frees ptr for thread; 0 on success
//
// Without an attach export the backend issues thread references itself. The
// host module, "bridge" by default, provides one import for callbacks that
// originate inside the runtime:
//
//	notify (target i64, value i64) -> ()
//
// notify runs on the goroutine that called into the module, with the context
// of that call, so the CallbackFunc can call back into the runtime through
// isolate.Call without attaching again.
//
// # Calling exports
//
// Invoke requires a context produced by isolate.Run or isolate.Call:
//
//	sum, err := isolate.Call(ctx, iso, func(ctx context.Context, _ *isolate.Thread) ([]uint64, error) {
//		return backend.Invoke(ctx, "add", 2, 3)
//	})
//
// Guest execution is serialized: wasm modules are single threaded. Nested calls,
// attaches and detaches made from inside a callback with its context reuse the
// outer call's turn. TearDown and Close always wait for the turn and must not be
// called from a callback. A trap surfaces as an *errors.ManagedException with
// class "wasm.trap".
package engine
