package entity

import (
	"fmt"
	"math"
	"sync"

	"github.com/wippyai/native-bridge/metrics"
)

// ID identifies an entity of type T. The zero ID is never issued.
type ID[T any] uint64

// Invalid is the zero ID.
const Invalid = 0

// IDFrom converts a raw value received from native code.
func IDFrom[T any](v uint64) ID[T] {
	return ID[T](v)
}

// Value returns the raw value passed to native code.
func (id ID[T]) Value() uint64 {
	return uint64(id)
}

// Valid reports whether id is non-zero. It does not check any registry.
func (id ID[T]) Valid() bool {
	return id != Invalid
}

func (id ID[T]) String() string {
	return fmt.Sprintf("%d:%d", id.generation(), id.slot())
}

func makeID[T any](slot, gen uint32) ID[T] {
	return ID[T](uint64(gen)<<32 | uint64(slot+1))
}

func (id ID[T]) slot() uint32 {
	return uint32(id) - 1
}

func (id ID[T]) generation() uint32 {
	return uint32(id >> 32)
}

// maxSlots keeps slot+1 within the low 32 bits.
const maxSlots int64 = math.MaxUint32 - 1

type entry[T comparable] struct {
	value T
	gen   uint32
	valid bool
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	metrics *metrics.Metrics
	name    string
}

// WithMetrics reports the registry's live entity count under name.
func WithMetrics(m *metrics.Metrics, name string) Option {
	return func(o *options) {
		o.metrics = m
		o.name = name
	}
}

// Registry is a concurrent two-way mapping between entities and IDs.
type Registry[T comparable] struct {
	entries  []entry[T]
	freeList []uint32
	index    map[T]ID[T]
	opts     options
	mu       sync.RWMutex
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry[T comparable](opts ...Option) *Registry[T] {
	r := &Registry[T]{
		entries:  make([]entry[T], 0, 64),
		freeList: make([]uint32, 0, 16),
		index:    make(map[T]ID[T]),
	}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

// Register returns the ID of v, issuing a new one if v is not registered.
// It returns the zero ID once the registry is closed.
func (r *Registry[T]) Register(v T) ID[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Invalid
	}
	if id, ok := r.index[v]; ok {
		return id
	}

	var slot uint32
	if n := len(r.freeList); n > 0 {
		slot = r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
	} else {
		if int64(len(r.entries)) >= maxSlots {
			return Invalid
		}
		slot = uint32(len(r.entries))
		r.entries = append(r.entries, entry[T]{})
	}

	e := &r.entries[slot]
	e.value = v
	e.valid = true

	id := makeID[T](slot, e.gen)
	r.index[v] = id
	r.opts.metrics.EntityRegistered(r.opts.name)
	return id
}

// lookup returns the live entry for id. The caller must hold the lock.
func (r *Registry[T]) lookup(id ID[T]) *entry[T] {
	if id == Invalid {
		return nil
	}
	slot := id.slot()
	if int(slot) >= len(r.entries) {
		return nil
	}
	e := &r.entries[slot]
	if !e.valid || e.gen != id.generation() {
		return nil
	}
	return e
}

// Get resolves id to its entity.
func (r *Registry[T]) Get(id ID[T]) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e := r.lookup(id); e != nil {
		return e.value, true
	}
	var zero T
	return zero, false
}

// IDOf returns the ID v is registered under.
func (r *Registry[T]) IDOf(v T) (ID[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.index[v]
	return id, ok
}

// Unregister removes the entity registered under id. It reports whether an
// entity was removed.
func (r *Registry[T]) Unregister(id ID[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lookup(id)
	if e == nil {
		return false
	}
	r.free(id.slot(), e)
	return true
}

// UnregisterEntity removes v. It reports whether v was registered.
func (r *Registry[T]) UnregisterEntity(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.index[v]
	if !ok {
		return false
	}
	r.free(id.slot(), &r.entries[id.slot()])
	return true
}

// free releases slot. A slot whose generation would wrap is retired so its
// IDs are never issued twice.
func (r *Registry[T]) free(slot uint32, e *entry[T]) {
	delete(r.index, e.value)

	var zero T
	e.value = zero
	e.valid = false
	if e.gen < math.MaxUint32 {
		e.gen++
		r.freeList = append(r.freeList, slot)
	}
	r.opts.metrics.EntityUnregistered(r.opts.name)
}

// Len returns the number of registered entities.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// Each calls fn for every registered entity in slot order until fn returns
// false. fn must not modify the registry.
func (r *Registry[T]) Each(fn func(ID[T], T) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.entries {
		e := &r.entries[i]
		if e.valid {
			if !fn(makeID[T](uint32(i), e.gen), e.value) {
				break
			}
		}
	}
}

// Close unregisters every entity. Later registrations return the zero ID.
func (r *Registry[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for range r.index {
		r.opts.metrics.EntityUnregistered(r.opts.name)
	}
	r.entries = nil
	r.freeList = nil
	r.index = make(map[T]ID[T])
	return nil
}
