// Package metrics exposes prometheus collectors describing the runtime bridge:
// thread attachments, runtime calls, handle releases, live entities, listener
// dispatches and recorded errors.
//
// All recording methods are safe to call on a nil *Metrics, so components take
// an optional collector set without checking for it.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name unless another is given.
const DefaultNamespace = "native_bridge"

// Metrics holds the bridge's prometheus collectors.
type Metrics struct {
	attachTotal      *prometheus.CounterVec
	attachedThreads  prometheus.Gauge
	callsTotal       *prometheus.CounterVec
	releasesTotal    *prometheus.CounterVec
	entities         *prometheus.GaugeVec
	dispatchTotal    *prometheus.CounterVec
	dispatchInFlight *prometheus.GaugeVec
	listenerPanics   *prometheus.CounterVec
	errorsRecorded   prometheus.Counter

	registerer prometheus.Registerer
	mu         sync.Mutex
	registered bool
}

func newCounterVec(namespace, subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(namespace, subsystem, name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the collector set. A nil registerer selects
// prometheus.DefaultRegisterer, an empty namespace DefaultNamespace.
func New(registerer prometheus.Registerer, namespace string) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &Metrics{
		registerer:  registerer,
		attachTotal: newCounterVec(namespace, "isolate", "attach_total", "Thread attach attempts by result", []string{"result", "code"}),
		attachedThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "isolate",
			Name:      "attached_threads",
			Help:      "Number of OS threads currently attached to the runtime",
		}),
		callsTotal:       newCounterVec(namespace, "isolate", "calls_total", "Calls funneled into the runtime by entry mode", []string{"mode"}),
		releasesTotal:    newCounterVec(namespace, "handle", "releases_total", "Handle releases by result", []string{"result"}),
		entities:         newGaugeVec(namespace, "entity", "registered", "Live entities per registry", []string{"registry"}),
		dispatchTotal:    newCounterVec(namespace, "dispatch", "dispatches_total", "Dispatches started per dispatcher", []string{"dispatcher"}),
		dispatchInFlight: newGaugeVec(namespace, "dispatch", "in_flight", "Dispatches not yet completed per dispatcher", []string{"dispatcher"}),
		listenerPanics:   newCounterVec(namespace, "dispatch", "listener_panics_total", "Listener invocations that panicked", []string{"dispatcher"}),
		errorsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errors",
			Name:      "recorded_total",
			Help:      "Records appended to the error log",
		}),
	}
}

// adopt registers *c, or replaces *c with the equal collector that is already
// registered so values recorded through m stay visible.
func adopt[C prometheus.Collector](r prometheus.Registerer, c *C) error {
	err := r.Register(*c)
	if err == nil {
		return nil
	}
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		return err
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		return err
	}
	*c = existing
	return nil
}

// Register registers the collectors. Collectors another Metrics already
// registered on the same registerer are shared. Safe to call multiple times;
// call it before recording.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	r := m.registerer
	for _, register := range []func() error{
		func() error { return adopt(r, &m.attachTotal) },
		func() error { return adopt(r, &m.attachedThreads) },
		func() error { return adopt(r, &m.callsTotal) },
		func() error { return adopt(r, &m.releasesTotal) },
		func() error { return adopt(r, &m.entities) },
		func() error { return adopt(r, &m.dispatchTotal) },
		func() error { return adopt(r, &m.dispatchInFlight) },
		func() error { return adopt(r, &m.listenerPanics) },
		func() error { return adopt(r, &m.errorsRecorded) },
	} {
		if err := register(); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// AttachSucceeded records a new thread attachment.
func (m *Metrics) AttachSucceeded() {
	if m == nil {
		return
	}
	m.attachTotal.WithLabelValues("ok", "0").Inc()
	m.attachedThreads.Inc()
}

// AttachFailed records a failed attachment with its entry point code.
func (m *Metrics) AttachFailed(code uint32) {
	if m == nil {
		return
	}
	m.attachTotal.WithLabelValues("error", strconv.FormatUint(uint64(code), 10)).Inc()
}

// Detached records a thread leaving the runtime.
func (m *Metrics) Detached() {
	if m == nil {
		return
	}
	m.attachedThreads.Dec()
}

// CallEntered records a call entering the runtime. Re-entrant calls reuse the
// thread of an enclosing call.
func (m *Metrics) CallEntered(reentrant bool) {
	if m == nil {
		return
	}
	mode := "attached"
	if reentrant {
		mode = "reentrant"
	}
	m.callsTotal.WithLabelValues(mode).Inc()
}

// HandleReleased records a handle release attempt.
func (m *Metrics) HandleReleased(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.releasesTotal.WithLabelValues(result).Inc()
}

// HandleLeaked records a handle collected while it still owned a pointer.
func (m *Metrics) HandleLeaked() {
	if m == nil {
		return
	}
	m.releasesTotal.WithLabelValues("leaked").Inc()
}

// EntityRegistered records a new entity in the named registry.
func (m *Metrics) EntityRegistered(registry string) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues(registry).Inc()
}

// EntityUnregistered records an entity leaving the named registry.
func (m *Metrics) EntityUnregistered(registry string) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues(registry).Dec()
}

// DispatchStarted records a dispatch launched by the named dispatcher.
func (m *Metrics) DispatchStarted(dispatcher string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(dispatcher).Inc()
	m.dispatchInFlight.WithLabelValues(dispatcher).Inc()
}

// DispatchFinished records a completed dispatch.
func (m *Metrics) DispatchFinished(dispatcher string) {
	if m == nil {
		return
	}
	m.dispatchInFlight.WithLabelValues(dispatcher).Dec()
}

// ListenerPanicked records a listener invocation that panicked.
func (m *Metrics) ListenerPanicked(dispatcher string) {
	if m == nil {
		return
	}
	m.listenerPanics.WithLabelValues(dispatcher).Inc()
}

// ErrorRecorded records a record appended to the error log.
func (m *Metrics) ErrorRecorded() {
	if m == nil {
		return
	}
	m.errorsRecorded.Inc()
}
