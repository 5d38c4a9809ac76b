// Package errors provides the error types surfaced across the runtime boundary.
//
// Three families of failures exist:
//
//   - Argument errors (KindInvalidArgument): a handle or pointer supplied by the
//     caller was null. They are raised before any runtime entry point is called.
//   - Entry point errors (*EntryPointError): numeric codes reported by the runtime's
//     embedding layer when attaching, tearing down or allocating. Describe translates
//     a Code into its static description.
//   - Managed exceptions (*ManagedException): failures raised by the business logic
//     hosted inside the runtime, carrying a message, a class name and a stack trace.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category):
//
//	err := errors.New(errors.PhaseCall, errors.KindNotFound).
//		Op("invoke").
//		Detail("export %q not found", name).
//		Build()
//
// All errors implement the standard error interface and support errors.Is/As.
//
// # Error Log
//
// Log is a bounded, queryable history of diagnostic records. It never alters control
// flow; once full, the oldest record is evicted:
//
//	log := errors.NewLog(errors.DefaultLogCapacity)
//	rec := log.Register(errors.NewRecord(errors.UnknownID, 0, "dispatch/quotes", "listener panicked"))
//	last := log.Last() // rec
package errors
