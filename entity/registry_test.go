package entity

import (
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/native-bridge/metrics"
)

type session struct {
	name string
}

func TestRegister(t *testing.T) {
	r := NewRegistry[*session]()
	a, b := &session{"a"}, &session{"b"}

	idA := r.Register(a)
	idB := r.Register(b)

	if !idA.Valid() || !idB.Valid() {
		t.Fatalf("expected non-zero ids, got %v %v", idA, idB)
	}
	if idA == idB {
		t.Fatalf("distinct entities share id %v", idA)
	}
	if again := r.Register(a); again != idA {
		t.Errorf("re-register = %v, want %v", again, idA)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	got, ok := r.Get(idB)
	if !ok || got != b {
		t.Errorf("Get(%v) = %v, %v", idB, got, ok)
	}
	if id, ok := r.IDOf(a); !ok || id != idA {
		t.Errorf("IDOf = %v, %v", id, ok)
	}
}

func TestGet_Unknown(t *testing.T) {
	r := NewRegistry[string]()

	tests := []struct {
		name string
		id   ID[string]
	}{
		{"zero", Invalid},
		{"out of range", makeID[string](10, 0)},
		{"wrong generation", makeID[string](0, 3)},
	}

	r.Register("x")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v, ok := r.Get(tt.id); ok {
				t.Errorf("Get(%v) = %q, want not found", tt.id, v)
			}
		})
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry[string]()
	id := r.Register("x")

	if !r.Unregister(id) {
		t.Fatal("expected unregister to succeed")
	}
	if r.Unregister(id) {
		t.Error("second unregister succeeded")
	}
	if _, ok := r.Get(id); ok {
		t.Error("unregistered id still resolves")
	}
	if _, ok := r.IDOf("x"); ok {
		t.Error("unregistered entity still has an id")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestUnregisterEntity(t *testing.T) {
	r := NewRegistry[string]()
	id := r.Register("x")

	if !r.UnregisterEntity("x") {
		t.Fatal("expected unregister to succeed")
	}
	if r.UnregisterEntity("x") {
		t.Error("second unregister succeeded")
	}
	if _, ok := r.Get(id); ok {
		t.Error("unregistered id still resolves")
	}
}

func TestIDsNeverReused(t *testing.T) {
	r := NewRegistry[int]()
	seen := make(map[ID[int]]bool)

	for i := 0; i < 1000; i++ {
		id := r.Register(i)
		if seen[id] {
			t.Fatalf("id %v issued twice", id)
		}
		seen[id] = true
		if i%2 == 0 {
			r.Unregister(id)
		}
	}

	// Slots are recycled with a new generation.
	old := r.Register(5000)
	r.Unregister(old)
	fresh := r.Register(5001)
	if fresh == old {
		t.Fatalf("recycled slot reissued id %v", old)
	}
	if fresh.slot() != old.slot() {
		t.Errorf("expected slot reuse, got %d and %d", old.slot(), fresh.slot())
	}
	if _, ok := r.Get(old); ok {
		t.Error("stale id resolves after slot reuse")
	}
}

func TestGenerationExhaustionRetiresSlot(t *testing.T) {
	r := NewRegistry[string]()
	id := r.Register("a")
	r.entries[id.slot()].gen = math.MaxUint32
	r.index["a"] = makeID[string](id.slot(), math.MaxUint32)

	r.UnregisterEntity("a")
	if len(r.freeList) != 0 {
		t.Fatalf("exhausted slot returned to free list")
	}

	next := r.Register("b")
	if next.slot() == id.slot() {
		t.Errorf("retired slot %d reissued", id.slot())
	}
}

func TestIDFrom(t *testing.T) {
	r := NewRegistry[string]()
	id := r.Register("x")

	got, ok := r.Get(IDFrom[string](id.Value()))
	if !ok || got != "x" {
		t.Errorf("round trip through raw value failed: %q, %v", got, ok)
	}
}

func TestEach(t *testing.T) {
	r := NewRegistry[string]()
	for _, s := range []string{"a", "b", "c"} {
		r.Register(s)
	}
	r.UnregisterEntity("b")

	var got []string
	r.Each(func(id ID[string], v string) bool {
		if back, ok := r.Get(id); !ok || back != v {
			t.Errorf("Each id %v does not resolve to %q", id, v)
		}
		got = append(got, v)
		return true
	})
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("Each visited %v, want [a c]", got)
	}

	count := 0
	r.Each(func(ID[string], string) bool {
		count++
		return false
	})
	if count != 1 {
		t.Errorf("Each did not stop early: %d", count)
	}
}

func TestClose(t *testing.T) {
	r := NewRegistry[string]()
	id := r.Register("x")

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := r.Get(id); ok {
		t.Error("id resolves after close")
	}
	if got := r.Register("y"); got.Valid() {
		t.Errorf("Register after close = %v, want zero", got)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestWithMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry(), "test")
	r := NewRegistry[string](WithMetrics(m, "names"))

	r.Register("a")
	r.Register("a")
	r.Register("b")
	r.UnregisterEntity("a")

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestConcurrent(t *testing.T) {
	r := NewRegistry[int]()

	const workers = 8
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v := base*perWorker + i
				id := r.Register(v)
				got, ok := r.Get(id)
				if !ok || got != v {
					t.Errorf("Get(%v) = %d, %v, want %d", id, got, ok, v)
					return
				}
				if i%3 == 0 && !r.Unregister(id) {
					t.Errorf("Unregister(%v) failed", id)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	removed := workers * ((perWorker + 2) / 3)
	if want := workers*perWorker - removed; r.Len() != want {
		t.Errorf("Len() = %d, want %d", r.Len(), want)
	}
}
