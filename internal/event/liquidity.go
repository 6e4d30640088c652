package event

import (
	"github.com/google/uuid"
)

// LiquidityAdded records a pool deposit and the shares minted for it.
type LiquidityAdded struct {
	Provider uuid.UUID
	Pool     string
	Custody  string
	Amount   uint64 // tokens 10^6
	Shares   uint64
}

func (e *LiquidityAdded) EventType() EventType { return EventTypeLiquidityAdded }
func (e *LiquidityAdded) PositionKey() string  { return "" }

// LiquidityRemoved records a share burn and the withdrawal it released.
type LiquidityRemoved struct {
	Provider uuid.UUID
	Pool     string
	Custody  string
	Shares   uint64
	Amount   uint64
}

func (e *LiquidityRemoved) EventType() EventType { return EventTypeLiquidityRemoved }
func (e *LiquidityRemoved) PositionKey() string  { return "" }
