package custody

import (
	"errors"
	"fmt"
	"sync"

	"VeilPerp/internal/fixed"
)

var (
	ErrAmountOverflow      = errors.New("custody: amount overflows")
	ErrUtilizationExceeded = errors.New("custody: utilization ceiling exceeded")
	ErrInsufficientOwned   = errors.New("custody: locked exceeds owned")
)

// Assets is the plaintext balance sheet of one custody. Owned is pool
// liquidity, Locked the share reserved against open positions, Collateral
// the trader deposits held, ProtocolFees the accrued fee take.
type Assets struct {
	Collateral   uint64
	ProtocolFees uint64
	Owned        uint64
	Locked       uint64
}

// Fees configures the custody's fee schedule in basis points.
type Fees struct {
	OpenBps          uint64
	CloseBps         uint64
	LiquidationBps   uint64
	ProtocolShareBps uint64
}

// PricingParams bounds what positions this custody accepts.
type PricingParams struct {
	MinInitialLeverage uint64 // 10^4
	MaxInitialLeverage uint64 // 10^4
	MaxLeverage        uint64 // 10^4
	MaxUtilizationBps  uint64 // 0 disables the ceiling
	MaxPayoffBps       uint64
}

// CollectedFees accumulates fee revenue by source, USD 10^6.
type CollectedFees struct {
	OpenUSD        uint64
	CloseUSD       uint64
	LiquidationUSD uint64
}

// VolumeStats accumulates traded notional by operation, USD 10^6.
type VolumeStats struct {
	OpenUSD        uint64
	CloseUSD       uint64
	LiquidationUSD uint64
}

// TradeStats accumulates realized trader outcomes, USD 10^6.
type TradeStats struct {
	ProfitUSD uint64
	LossUSD   uint64
}

// Custody is a pool's holdings of one asset plus its trading parameters
// and running statistics. Mutated only by the orchestrator under its
// critical section; the embedded mutex covers direct readers.
type Custody struct {
	mu sync.Mutex

	Name    string
	FeedID  string // oracle feed pricing this asset
	Assets  Assets
	Fees    Fees
	Pricing PricingParams

	Collected CollectedFees
	Volume    VolumeStats
	Trades    TradeStats
}

func New(name, feedID string, fees Fees, pricing PricingParams) *Custody {
	return &Custody{
		Name:    name,
		FeedID:  feedID,
		Fees:    fees,
		Pricing: pricing,
	}
}

// Lock reserves owned liquidity against a position. The reservation is
// validated in full before any field changes: an over-ceiling or
// over-owned lock leaves the assets untouched.
func (c *Custody) Lock(amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	locked, ok := fixed.AddChecked(c.Assets.Locked, amount)
	if !ok {
		return fmt.Errorf("%w: locked %d + %d", ErrAmountOverflow, c.Assets.Locked, amount)
	}

	if c.Pricing.MaxUtilizationBps > 0 && c.Assets.Owned > 0 {
		utilization := fixed.UtilizationBps(locked, c.Assets.Owned)
		if utilization > c.Pricing.MaxUtilizationBps {
			return fmt.Errorf("%w: %d bps > %d bps", ErrUtilizationExceeded, utilization, c.Pricing.MaxUtilizationBps)
		}
	}

	if c.Assets.Owned < locked {
		return fmt.Errorf("%w: owned %d < locked %d", ErrInsufficientOwned, c.Assets.Owned, locked)
	}

	c.Assets.Locked = locked
	return nil
}

// Unlock releases a reservation, floored at zero. Never errors: unlock
// runs on settlement paths that must not fail.
func (c *Custody) Unlock(amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Assets.Locked = fixed.SubFloor(c.Assets.Locked, amount)
}

// AddCollateral records a trader deposit held by this custody.
func (c *Custody) AddCollateral(amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sum, ok := fixed.AddChecked(c.Assets.Collateral, amount)
	if !ok {
		return fmt.Errorf("%w: collateral %d + %d", ErrAmountOverflow, c.Assets.Collateral, amount)
	}
	c.Assets.Collateral = sum
	return nil
}

// RemoveCollateral releases trader collateral, floored at zero.
func (c *Custody) RemoveCollateral(amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Assets.Collateral = fixed.SubFloor(c.Assets.Collateral, amount)
}

// CollectFee accrues protocol fee revenue.
func (c *Custody) CollectFee(amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Assets.ProtocolFees += amount
}

// RecordOpen accumulates open-side stats from the revealed deposit flow.
func (c *Custody) RecordOpen(depositUSD, feeUSD uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Volume.OpenUSD += depositUSD
	c.Collected.OpenUSD += feeUSD
}

// RecordClose accumulates a close outcome from the revealed scalars.
func (c *Custody) RecordClose(transferUSD, feeUSD, profitUSD, lossUSD uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Volume.CloseUSD += transferUSD
	c.Collected.CloseUSD += feeUSD
	c.Trades.ProfitUSD += profitUSD
	c.Trades.LossUSD += lossUSD
}

// RecordLiquidation accumulates a liquidation payout split.
func (c *Custody) RecordLiquidation(rewardUSD, ownerUSD uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Volume.LiquidationUSD += rewardUSD + ownerUSD
	c.Collected.LiquidationUSD += rewardUSD
}

// UtilizationBps returns the current locked/owned ratio in basis points.
func (c *Custody) UtilizationBps() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return fixed.UtilizationBps(c.Assets.Locked, c.Assets.Owned)
}

// Snapshot returns a copy of the assets for reporting.
func (c *Custody) Snapshot() Assets {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.Assets
}
