package event

import (
	"github.com/google/uuid"
)

// PositionClosed records a close settlement from the revealed scalars.
// Reason distinguishes a trader close from a rejected init that refunded
// and closed the slot.
type PositionClosed struct {
	RequestID      uuid.UUID
	Position       string
	Owner          uuid.UUID
	ProfitUSD      uint64
	LossUSD        uint64
	TransferAmount uint64 // USD 10^6 returned to the owner
	FeeAmount      uint64 // USD 10^6
	Reason         string // "closed" or "rejected"
}

func (e *PositionClosed) EventType() EventType { return EventTypePositionClosed }
func (e *PositionClosed) PositionKey() string  { return e.Position }

// PositionLiquidated records a liquidation payout split.
type PositionLiquidated struct {
	RequestID        uuid.UUID
	Position         string
	Owner            uuid.UUID
	Liquidator       uuid.UUID
	LiquidatorReward uint64 // USD 10^6
	OwnerAmount      uint64 // USD 10^6
}

func (e *PositionLiquidated) EventType() EventType { return EventTypePositionLiquidated }
func (e *PositionLiquidated) PositionKey() string  { return e.Position }

// PnLCalculated records a view-only PnL reveal. No state changed.
type PnLCalculated struct {
	RequestID       uuid.UUID
	Position        string
	ProfitUSD       uint64
	LossUSD         uint64
	CurrentLeverage uint64
}

func (e *PnLCalculated) EventType() EventType { return EventTypePnLCalculated }
func (e *PnLCalculated) PositionKey() string  { return e.Position }
