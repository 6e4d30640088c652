package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeOpenRequested
	EventTypePositionOpened
	EventTypeCollateralUpdateRequested
	EventTypePositionUpdated
	EventTypePositionClosed
	EventTypePositionLiquidated
	EventTypePnLCalculated
	EventTypeLiquidityAdded
	EventTypeLiquidityRemoved
)

// Envelope wraps every event in the audit log. Payload fields carry only
// the plaintext quantities a circuit revealed, never ciphertext and never
// values inferred from secrets.
type Envelope struct {
	// Monotonic sequence assigned by the orchestrator
	Sequence int64

	// Event type discriminator
	EventType EventType

	// Position slot in hex, empty for pool-level events
	Position string

	// Pool and custody context
	Pool    string
	Custody string

	Timestamp time.Time

	Payload Event
}

// Event is the interface all event payloads implement.
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// PositionKey returns the position slot in hex, empty for
	// pool-level events
	PositionKey() string
}

func (et EventType) String() string {
	switch et {
	case EventTypeOpenRequested:
		return "OpenRequested"
	case EventTypePositionOpened:
		return "PositionOpened"
	case EventTypeCollateralUpdateRequested:
		return "CollateralUpdateRequested"
	case EventTypePositionUpdated:
		return "PositionUpdated"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypePnLCalculated:
		return "PnLCalculated"
	case EventTypeLiquidityAdded:
		return "LiquidityAdded"
	case EventTypeLiquidityRemoved:
		return "LiquidityRemoved"
	default:
		return "Unknown"
	}
}
