package errors

import (
	"math"
	"sync"

	"github.com/wippyai/native-bridge/internal/osthread"
)

// DefaultLogCapacity is the number of records a Log keeps by default.
const DefaultLogCapacity = 1024

// UnknownID marks a record without an id or without a cause.
const UnknownID uint64 = math.MaxUint64

// Record is one diagnostic entry of a Log.
type Record struct {
	Location string
	Message  string
	ID       uint64
	CauseID  uint64
	ThreadID uint64
	GroupID  uint64
}

// NoErrorRecord is returned by Log.Last when nothing was registered.
var NoErrorRecord = Record{
	ID:      UnknownID,
	CauseID: UnknownID,
	Message: "NO ERROR",
}

// NewRecord creates a record stamped with the calling OS thread id.
func NewRecord(causeID, groupID uint64, location, message string) Record {
	tid, _ := osthread.ID()
	return Record{
		Location: location,
		Message:  message,
		ID:       UnknownID,
		CauseID:  causeID,
		ThreadID: tid,
		GroupID:  groupID,
	}
}

// Log is a bounded, thread-safe history of records. Ids are assigned
// sequentially; once the log is full the record with the lowest id is evicted.
type Log struct {
	records []Record
	next    uint64
	mu      sync.Mutex
}

// NewLog creates a log holding at most capacity records.
// Non-positive capacities select DefaultLogCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{records: make([]Record, capacity)}
}

// Register appends r, assigning it the next id, and returns the stored record.
func (l *Log) Register(r Record) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	r.ID = l.next
	l.records[l.slot(r.ID)] = r
	l.next++
	return r
}

// Last returns the most recently registered record, or NoErrorRecord.
func (l *Log) Last() Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.next == 0 {
		return NoErrorRecord
	}
	return l.records[l.slot(l.next-1)]
}

// Get returns the record with the given id if it has not been evicted.
func (l *Log) Get(id uint64) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id >= l.next || l.next-id > uint64(len(l.records)) {
		return Record{}, false
	}
	return l.records[l.slot(id)], true
}

// Records returns the retained records, oldest first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.lenLocked()
	out := make([]Record, 0, n)
	for id := l.next - uint64(n); id < l.next; id++ {
		out = append(out, l.records[l.slot(id)])
	}
	return out
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lenLocked()
}

// Capacity returns the maximum number of retained records.
func (l *Log) Capacity() int {
	return len(l.records)
}

func (l *Log) lenLocked() int {
	if l.next < uint64(len(l.records)) {
		return int(l.next)
	}
	return len(l.records)
}

func (l *Log) slot(id uint64) int {
	return int(id % uint64(len(l.records)))
}
