package circuit

import (
	"VeilPerp/internal/fixed"
)

// The five confidential circuits. Each is a pure function over the
// decrypted position state; all intermediates widen to 128 bits and every
// division is total (zero denominators map to defined fallbacks).

// InitPosition validates a new position and prices it at the oracle price.
// The stored entry price is always the oracle price, never the caller's.
// A non-zero status means the record must not activate; the state is still
// returned so callers keep a uniform data flow.
func InitPosition(in OpenInput, oraclePrice uint64) (uint64, PositionState) {
	validSide := eqMask(in.Side, SideLong) | eqMask(in.Side, SideShort)

	status := pick(not(validSide), StatusInvalidSide, StatusOK)
	status = pick(isZero(in.SizeUSD), StatusZeroSize, status)
	status = pick(isZero(in.Collateral), StatusZeroCollateral, status)
	status = pick(isZero(oraclePrice), StatusZeroPrice, status)

	leverage := fixed.Leverage(in.SizeUSD, fixed.CollateralUSD(in.Collateral, oraclePrice))

	return status, PositionState{
		Side:       in.Side,
		SizeUSD:    in.SizeUSD,
		Collateral: in.Collateral,
		EntryPrice: oraclePrice,
		Leverage:   leverage,
	}
}

// UpdateCollateral adds or removes collateral and reprices leverage at the
// stored entry price. Add is unconditional; remove beyond the current
// collateral reports StatusInsufficientCollateral. A removal that would
// push leverage past maxLeverage reports StatusMaxLeverageExceeded. Only a
// zero status commits; otherwise the returned state equals the input.
func UpdateCollateral(state PositionState, amount uint64, isAdd bool, maxLeverage uint64) (uint64, PositionState) {
	addMask := uint64(0)
	if isAdd {
		addMask = 1
	}

	insufficient := not(addMask) & gtMask(amount, state.Collateral)

	// Clamp the removal so the unselected branch cannot wrap.
	clamped := pick(insufficient, state.Collateral, amount)
	newCollateral := pick(addMask, state.Collateral+amount, state.Collateral-clamped)

	newLeverage := fixed.Leverage(state.SizeUSD, fixed.CollateralUSD(newCollateral, state.EntryPrice))

	status := pick(insufficient, StatusInsufficientCollateral, StatusOK)
	status = pick(gtMask(newLeverage, maxLeverage)&isZero(status), StatusMaxLeverageExceeded, status)

	commit := isZero(status)
	out := state
	out.Collateral = pick(commit, newCollateral, state.Collateral)
	out.Leverage = pick(commit, newLeverage, state.Leverage)

	return status, out
}

// CheckLiquidation reveals whether the position's current leverage exceeds
// maxLeverage at the given price, and if so how the remaining margin splits
// between the liquidator reward and the owner.
func CheckLiquidation(state PositionState, currentPrice, maxLeverage, liquidationFeeBps uint64) LiquidationOutcome {
	profit, loss := directionalPnL(state, currentPrice)
	margin := marginUSD(state, currentPrice, profit, loss)
	leverage := fixed.LeverageAtMargin(state.SizeUSD, margin)

	liquidatable := gtMask(leverage, maxLeverage)

	// Reward and owner payout only exist for a liquidatable position with
	// margin remaining.
	payable := liquidatable & gtMask(margin, 0)
	reward := payable * fixed.BpsOf(margin, liquidationFeeBps)
	owner := payable * pick(gtMask(margin, reward), margin-reward, 0)

	return LiquidationOutcome{
		Liquidatable:     liquidatable == 1,
		LiquidatorReward: reward,
		OwnerAmount:      owner,
	}
}

// ClosePosition reveals the final PnL split, the settlement transfer and
// the close fee at the given exit price. The fee is charged on notional.
func ClosePosition(state PositionState, exitPrice, feeBps uint64) CloseOutcome {
	profit, loss := directionalPnL(state, exitPrice)
	gross := marginUSD(state, exitPrice, profit, loss)
	fee := fixed.BpsOf(state.SizeUSD, feeBps)

	transfer := pick(gtMask(gross, fee), gross-fee, 0)

	return CloseOutcome{
		ProfitUSD:      profit,
		LossUSD:        loss,
		TransferAmount: transfer,
		FeeAmount:      fee,
	}
}

// CalculatePnL is the view-only circuit: current PnL split and current
// leverage at the given price. It mutates nothing and shares its formulas
// with CheckLiquidation, so the two can never disagree.
func CalculatePnL(state PositionState, currentPrice uint64) PnLOutcome {
	profit, loss := directionalPnL(state, currentPrice)
	margin := marginUSD(state, currentPrice, profit, loss)

	return PnLOutcome{
		ProfitUSD:       profit,
		LossUSD:         loss,
		CurrentLeverage: fixed.LeverageAtMargin(state.SizeUSD, margin),
	}
}

// directionalPnL computes the unrealized PnL magnitude
// |price - entry| * size / entry and splits it into profit and loss by
// side. A long profits when the price rose, a short when it fell. Any side
// other than long is treated as short, matching the sealed encoding.
func directionalPnL(state PositionState, price uint64) (profit, loss uint64) {
	rose := gtMask(price, state.EntryPrice)
	diff := pick(rose, price-state.EntryPrice, state.EntryPrice-price)
	magnitude := fixed.MulDiv(diff, state.SizeUSD, state.EntryPrice, 0)

	long := eqMask(state.Side, SideLong)
	profitable := (long & rose) | (not(long) & ltMask(price, state.EntryPrice))

	return profitable * magnitude, not(profitable) * magnitude
}

// marginUSD values the collateral at the current price and applies the PnL,
// floored at zero. Exactly one of profit and loss is non-zero.
func marginUSD(state PositionState, price, profit, loss uint64) uint64 {
	collateralUSD := fixed.CollateralUSD(state.Collateral, price)

	gained := gtMask(profit, 0)
	covered := ltMask(loss, collateralUSD)

	return pick(gained, collateralUSD+profit, pick(covered, collateralUSD-loss, 0))
}
