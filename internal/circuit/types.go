package circuit

// Side encodings inside a sealed record. Zero means no position.
const (
	SideNone  uint64 = 0
	SideLong  uint64 = 1
	SideShort uint64 = 2
)

// PositionState is the plaintext image of a sealed position record. It
// exists only inside the compute boundary; the orchestrator never sees it.
type PositionState struct {
	Side       uint64 // 1 = Long, 2 = Short
	SizeUSD    uint64 // notional, USD 10^6
	Collateral uint64 // collateral tokens, 10^6
	EntryPrice uint64 // USD 10^6
	Leverage   uint64 // 10^4 (50_000 = 5x)
}

// OpenInput is the caller-supplied confidential input to InitPosition.
// EntryPrice is carried for wire compatibility only; the circuit prices
// every position at the oracle and never honors the caller's quote.
type OpenInput struct {
	Side       uint64
	SizeUSD    uint64
	Collateral uint64
	EntryPrice uint64
}

// InitPosition status codes. A later violation overwrites an earlier one.
const (
	StatusOK             uint64 = 0
	StatusInvalidSide    uint64 = 1
	StatusZeroSize       uint64 = 2
	StatusZeroCollateral uint64 = 3
	StatusZeroPrice      uint64 = 4
)

// UpdateCollateral status codes.
const (
	StatusInsufficientCollateral uint64 = 1
	StatusMaxLeverageExceeded    uint64 = 2
)

// LiquidationOutcome is the revealed result of CheckLiquidation. Reward and
// OwnerAmount are zero unless the position is liquidatable with margin left.
type LiquidationOutcome struct {
	Liquidatable     bool
	LiquidatorReward uint64 // USD 10^6
	OwnerAmount      uint64 // USD 10^6
}

// CloseOutcome is the revealed result of ClosePosition.
type CloseOutcome struct {
	ProfitUSD      uint64
	LossUSD        uint64
	TransferAmount uint64 // gross settlement minus fee, floored at 0
	FeeAmount      uint64 // fee on notional
}

// PnLOutcome is the revealed result of the view-only CalculatePnL.
type PnLOutcome struct {
	ProfitUSD       uint64
	LossUSD         uint64
	CurrentLeverage uint64 // 10^4, or the max-leverage sentinel at zero margin
}
