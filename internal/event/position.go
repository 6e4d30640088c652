package event

import (
	"github.com/google/uuid"
)

// OpenRequested records the submit side of an open: the deposit transfer
// and lock are plaintext and happen eagerly, before the circuit decides
// anything.
type OpenRequested struct {
	RequestID        uuid.UUID
	Position         string
	Owner            uuid.UUID
	Pool             string
	Custody          string
	CollateralAmount uint64 // tokens 10^6, the plaintext deposit
}

func (e *OpenRequested) EventType() EventType { return EventTypeOpenRequested }
func (e *OpenRequested) PositionKey() string  { return e.Position }

// PositionOpened records a successful init callback. The position's side,
// size and leverage stay sealed; only the deposit was ever visible.
type PositionOpened struct {
	RequestID        uuid.UUID
	Position         string
	Owner            uuid.UUID
	Pool             string
	Custody          string
	CollateralAmount uint64
}

func (e *PositionOpened) EventType() EventType { return EventTypePositionOpened }
func (e *PositionOpened) PositionKey() string  { return e.Position }

// CollateralUpdateRequested records the submit side of a collateral
// change. For an add the deposit has already transferred; for a removal
// nothing has moved yet.
type CollateralUpdateRequested struct {
	RequestID uuid.UUID
	Position  string
	Amount    uint64 // tokens 10^6
	IsAdd     bool
}

func (e *CollateralUpdateRequested) EventType() EventType {
	return EventTypeCollateralUpdateRequested
}
func (e *CollateralUpdateRequested) PositionKey() string { return e.Position }

// PositionUpdated records a committed collateral change.
type PositionUpdated struct {
	RequestID uuid.UUID
	Position  string
	Amount    uint64
	IsAdd     bool
}

func (e *PositionUpdated) EventType() EventType { return EventTypePositionUpdated }
func (e *PositionUpdated) PositionKey() string  { return e.Position }
