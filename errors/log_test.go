package errors

import (
	"fmt"
	"sync"
	"testing"
)

func TestLog_Empty(t *testing.T) {
	log := NewLog(4)

	if got := log.Last(); got != NoErrorRecord {
		t.Fatalf("Last() = %+v, want NoErrorRecord", got)
	}
	if log.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", log.Len())
	}
	if _, ok := log.Get(0); ok {
		t.Fatal("Get(0) on empty log should fail")
	}
}

func TestLog_DefaultCapacity(t *testing.T) {
	if c := NewLog(0).Capacity(); c != DefaultLogCapacity {
		t.Fatalf("Capacity() = %d, want %d", c, DefaultLogCapacity)
	}
}

func TestLog_RegisterAssignsIDs(t *testing.T) {
	log := NewLog(8)

	first := log.Register(NewRecord(UnknownID, 1, "test", "first"))
	second := log.Register(NewRecord(first.ID, 1, "test", "second"))

	if first.ID != 0 || second.ID != 1 {
		t.Fatalf("ids = %d, %d; want 0, 1", first.ID, second.ID)
	}
	if second.CauseID != first.ID {
		t.Fatalf("CauseID = %d, want %d", second.CauseID, first.ID)
	}
	if got := log.Last(); got.Message != "second" {
		t.Fatalf("Last().Message = %q, want second", got.Message)
	}
	if got, ok := log.Get(0); !ok || got.Message != "first" {
		t.Fatalf("Get(0) = %+v, %v", got, ok)
	}
}

func TestLog_Eviction(t *testing.T) {
	const capacity = 16
	const inserted = 40

	log := NewLog(capacity)
	for i := 0; i < inserted; i++ {
		log.Register(NewRecord(UnknownID, 0, "test", fmt.Sprintf("error %d", i)))
	}

	if log.Len() != capacity {
		t.Fatalf("Len() = %d, want %d", log.Len(), capacity)
	}
	if got := log.Last(); got.Message != fmt.Sprintf("error %d", inserted-1) {
		t.Fatalf("Last().Message = %q", got.Message)
	}

	for id := uint64(0); id < inserted; id++ {
		_, ok := log.Get(id)
		want := id >= inserted-capacity
		if ok != want {
			t.Fatalf("Get(%d) ok = %v, want %v", id, ok, want)
		}
	}

	records := log.Records()
	if len(records) != capacity {
		t.Fatalf("Records() len = %d, want %d", len(records), capacity)
	}
	for i, r := range records {
		if r.ID != uint64(inserted-capacity+i) {
			t.Fatalf("Records()[%d].ID = %d, want %d", i, r.ID, inserted-capacity+i)
		}
	}
}

func TestLog_Concurrent(t *testing.T) {
	log := NewLog(DefaultLogCapacity)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				log.Register(NewRecord(UnknownID, uint64(g), "test", "concurrent"))
			}
		}(g)
	}
	wg.Wait()

	if log.Len() != DefaultLogCapacity {
		t.Fatalf("Len() = %d, want %d", log.Len(), DefaultLogCapacity)
	}
	if log.Last().ID != 8*500-1 {
		t.Fatalf("Last().ID = %d, want %d", log.Last().ID, 8*500-1)
	}
}
