// Package isolatetest provides an in-memory isolate.Backend for tests.
package isolatetest

import (
	"context"
	"sync"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/isolate"
)

// Backend is a counting isolate.Backend. Thread references are issued
// sequentially starting at 1. Failures can be injected per operation.
type Backend struct {
	live     map[isolate.ThreadRef]bool
	released []uintptr
	next     isolate.ThreadRef

	createErr   error
	attachErr   error
	releaseErr  error
	tearDownErr error

	creates   int
	attaches  int
	detaches  int
	teardowns int

	mu sync.Mutex
}

// New returns a backend with no injected failures.
func New() *Backend {
	return &Backend{live: make(map[isolate.ThreadRef]bool)}
}

// FailCreate makes Create report code.
func (b *Backend) FailCreate(code errors.Code) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createErr = code.Err(errors.PhaseCreate)
}

// FailAttach makes Attach report code. NoError clears the failure.
func (b *Backend) FailAttach(code errors.Code) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attachErr = code.Err(errors.PhaseAttach)
}

// FailRelease makes Release return err.
func (b *Backend) FailRelease(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseErr = err
}

// FailTearDown makes TearDown return err.
func (b *Backend) FailTearDown(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tearDownErr = err
}

func (b *Backend) issue() isolate.ThreadRef {
	b.next++
	b.live[b.next] = true
	return b.next
}

func (b *Backend) Create(context.Context) (isolate.ThreadRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return 0, b.createErr
	}
	b.creates++
	return b.issue(), nil
}

func (b *Backend) Attach(context.Context) (isolate.ThreadRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attachErr != nil {
		return 0, b.attachErr
	}
	b.attaches++
	return b.issue(), nil
}

func (b *Backend) Detach(_ context.Context, t isolate.ThreadRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.live[t] {
		return errors.EntryPoint(errors.PhaseAttach, errors.UnattachedThread)
	}
	delete(b.live, t)
	b.detaches++
	return nil
}

func (b *Backend) Release(_ context.Context, t isolate.ThreadRef, ptr uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.live[t] {
		return errors.EntryPoint(errors.PhaseRelease, errors.UnattachedThread)
	}
	if b.releaseErr != nil {
		return b.releaseErr
	}
	b.released = append(b.released, ptr)
	return nil
}

func (b *Backend) TearDown(_ context.Context, t isolate.ThreadRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.live[t] {
		return errors.EntryPoint(errors.PhaseTearDown, errors.UnattachedThread)
	}
	if b.tearDownErr != nil {
		return b.tearDownErr
	}
	b.live = make(map[isolate.ThreadRef]bool)
	b.teardowns++
	return nil
}

// Creates returns the number of successful Create calls.
func (b *Backend) Creates() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates
}

// Attaches returns the number of successful Attach calls.
func (b *Backend) Attaches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attaches
}

// Detaches returns the number of successful Detach calls.
func (b *Backend) Detaches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detaches
}

// TearDowns returns the number of successful TearDown calls.
func (b *Backend) TearDowns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.teardowns
}

// Live returns the number of thread references not yet detached.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// Released returns the pointers passed to Release in call order.
func (b *Backend) Released() []uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uintptr(nil), b.released...)
}

var _ isolate.Backend = (*Backend)(nil)
