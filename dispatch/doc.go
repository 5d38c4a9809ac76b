// Package dispatch delivers events to registered listeners off the caller's
// goroutine.
//
// Listeners belong to one of two tiers. Every dispatch calls all main
// listeners and then all low-priority listeners, one after another, in the
// order they were added. Listeners added or removed while a dispatch runs take
// effect from the next dispatch.
//
// A Handler runs each dispatch on its own goroutine and keeps at most N of them
// outstanding: once N dispatches are pending, Handle waits for the oldest one
// before returning. A buffer size of 1 therefore makes Handle synchronous while
// the listeners still run on another goroutine. A SimpleHandler always waits for
// its dispatch.
//
//	h := dispatch.NewHandler[Event](dispatch.WithName("quotes"))
//	id := h.Add(func(e Event) { ... })
//	h.AddLowPriority(audit)
//
//	h.Handle(ev)
//	h.Remove(id)
//
// A panicking listener is recovered, logged, counted and recorded in the
// configured errors.Log; the remaining listeners still run. A listener must not
// call Handle or Wait on the dispatcher that invoked it.
package dispatch
