package mpc

import (
	"github.com/google/uuid"
)

// CircuitID names one of the five confidential circuits.
type CircuitID string

const (
	CircuitInitPosition     CircuitID = "init_position"
	CircuitUpdateCollateral CircuitID = "update_collateral"
	CircuitCheckLiquidation CircuitID = "check_liquidation"
	CircuitClosePosition    CircuitID = "close_position"
	CircuitCalculatePnL     CircuitID = "calculate_pnl"
)

// Params carries the plaintext arguments a circuit needs alongside the
// sealed data. Unused fields stay zero.
type Params struct {
	Price       uint64 `json:"price,omitempty"`
	MaxLeverage uint64 `json:"max_leverage,omitempty"`
	FeeBps      uint64 `json:"fee_bps,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	IsAdd       bool   `json:"is_add,omitempty"`
}

// Request is one queued confidential computation, bound to the position's
// record nonce at submit time.
type Request struct {
	ID       uuid.UUID    `json:"id"`
	Circuit  CircuitID    `json:"circuit"`
	Position PositionKey  `json:"position"`
	Nonce    uint64       `json:"nonce"`
	Record   SealedRecord `json:"record"`
	Input    *SealedInput `json:"input,omitempty"` // init only
	Params   Params       `json:"params"`
}

// Result is the cluster's callback envelope. An aborted result carries no
// values. NewRecord and NewNonce are present only for circuits that
// produce a resealed record (init, update).
type Result struct {
	RequestID uuid.UUID   `json:"request_id"`
	Circuit   CircuitID   `json:"circuit"`
	Position  PositionKey `json:"position"`
	Nonce     uint64      `json:"nonce"` // nonce the computation was bound to
	Aborted   bool        `json:"aborted,omitempty"`

	Status           uint64 `json:"status,omitempty"`
	Liquidatable     bool   `json:"liquidatable,omitempty"`
	ProfitUSD        uint64 `json:"profit_usd,omitempty"`
	LossUSD          uint64 `json:"loss_usd,omitempty"`
	TransferAmount   uint64 `json:"transfer_amount,omitempty"`
	FeeAmount        uint64 `json:"fee_amount,omitempty"`
	LiquidatorReward uint64 `json:"liquidator_reward,omitempty"`
	OwnerAmount      uint64 `json:"owner_amount,omitempty"`
	CurrentLeverage  uint64 `json:"current_leverage,omitempty"`

	NewRecord *SealedRecord `json:"new_record,omitempty"`
	NewNonce  uint64        `json:"new_nonce,omitempty"`
}
