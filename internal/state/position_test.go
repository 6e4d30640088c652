package state

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusUninitialized, StatusPending, true},
		{StatusUninitialized, StatusActive, false},
		{StatusPending, StatusActive, true},
		{StatusPending, StatusClosed, true},
		{StatusPending, StatusLiquidated, false},
		{StatusActive, StatusActive, true},
		{StatusActive, StatusClosed, true},
		{StatusActive, StatusLiquidated, true},
		{StatusActive, StatusPending, false},
		{StatusClosed, StatusActive, false},
		{StatusClosed, StatusClosed, false},
		{StatusLiquidated, StatusActive, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		if got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusActive.IsTerminal() || StatusPending.IsTerminal() {
		t.Error("live statuses must not be terminal")
	}
	if !StatusClosed.IsTerminal() || !StatusLiquidated.IsTerminal() {
		t.Error("closed and liquidated must be terminal")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	owner := uuid.New()

	a := DeriveKey(owner, "main", "SOL")
	b := DeriveKey(owner, "main", "SOL")
	if a != b {
		t.Error("same triple must derive the same key")
	}

	if DeriveKey(owner, "main", "BTC") == a {
		t.Error("different custody must derive a different key")
	}
	if DeriveKey(uuid.New(), "main", "SOL") == a {
		t.Error("different owner must derive a different key")
	}

	// Length prefixes keep shifted boundaries apart.
	if DeriveKey(owner, "ab", "c") == DeriveKey(owner, "a", "bc") {
		t.Error("pool/custody boundary must be unambiguous")
	}
}

func TestBookRejectsLiveDuplicate(t *testing.T) {
	book := NewBook()
	owner := uuid.New()
	key := DeriveKey(owner, "main", "SOL")

	first := &PositionRecord{Key: key, Owner: owner, Status: StatusPending}
	if err := book.Create(first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := &PositionRecord{Key: key, Owner: owner, Status: StatusPending}
	if err := book.Create(dup); err != ErrSlotOccupied {
		t.Errorf("duplicate Create = %v, want ErrSlotOccupied", err)
	}

	// A terminal record frees the slot for reopening.
	first.Status = StatusClosed
	if err := book.Create(dup); err != nil {
		t.Errorf("reopen after close: %v", err)
	}
}

func TestBookActiveCount(t *testing.T) {
	book := NewBook()
	for i, status := range []Status{StatusPending, StatusActive, StatusClosed, StatusLiquidated} {
		owner := uuid.New()
		rec := &PositionRecord{Key: DeriveKey(owner, "main", string(rune('A'+i))), Owner: owner, Status: status}
		if err := book.Create(rec); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	if got := book.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
}

func TestCanonicalBytesCoversMutableState(t *testing.T) {
	owner := uuid.New()
	rec := &PositionRecord{
		Key:     DeriveKey(owner, "main", "SOL"),
		Owner:   owner,
		Pool:    "main",
		Custody: "SOL",
		Nonce:   42,
		Status:  StatusActive,
	}

	base := rec.CanonicalBytes()

	rec.Nonce++
	if bytes.Equal(base, rec.CanonicalBytes()) {
		t.Error("nonce change must change the canonical form")
	}
	rec.Nonce--

	rec.Sealed[0][0] ^= 1
	if bytes.Equal(base, rec.CanonicalBytes()) {
		t.Error("ciphertext change must change the canonical form")
	}
	rec.Sealed[0][0] ^= 1

	rec.Busy = true
	if bytes.Equal(base, rec.CanonicalBytes()) {
		t.Error("busy flag must be part of the canonical form")
	}
	rec.Busy = false

	if !bytes.Equal(base, rec.CanonicalBytes()) {
		t.Error("canonical form must be deterministic")
	}
}
