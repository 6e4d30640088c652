package state

import (
	"errors"
	"sync"

	"VeilPerp/internal/mpc"
)

var (
	ErrSlotOccupied    = errors.New("position slot occupied by a live record")
	ErrPositionMissing = errors.New("no position at slot")
)

// Book is the content-addressed position index, keyed by the derived slot.
// Records are never deleted: terminal records stay for audit and are
// replaced in place when the same slot opens again.
type Book struct {
	mu      sync.RWMutex
	records map[mpc.PositionKey]*PositionRecord
}

func NewBook() *Book {
	return &Book{
		records: make(map[mpc.PositionKey]*PositionRecord),
	}
}

// Create inserts a fresh record at its slot. A non-terminal record already
// at the slot rejects the open.
func (b *Book) Create(rec *PositionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.records[rec.Key]; ok && !existing.Status.IsTerminal() {
		return ErrSlotOccupied
	}
	b.records[rec.Key] = rec
	return nil
}

// Discard removes a record outright. Only for unwinding a failed open
// before anything was committed; settled records are never discarded.
func (b *Book) Discard(key mpc.PositionKey) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.records, key)
}

// Get returns the record at a slot.
func (b *Book) Get(key mpc.PositionKey) (*PositionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[key]
	if !ok {
		return nil, ErrPositionMissing
	}
	return rec, nil
}

// ActiveCount returns the number of non-terminal records.
func (b *Book) ActiveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, rec := range b.records {
		if !rec.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// ForEach visits every record. The callback must not retain the record
// beyond the call.
func (b *Book) ForEach(fn func(*PositionRecord)) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, rec := range b.records {
		fn(rec)
	}
}
