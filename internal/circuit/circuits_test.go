package circuit

import (
	"testing"

	"VeilPerp/internal/fixed"
)

func TestInitPositionLeverageFormula(t *testing.T) {
	// 10,000 USD notional against 1 token of collateral at $100:
	// collateral_usd = 100 USD, leverage = 10000/100 at 10^4 scale = 1_000_000
	status, state := InitPosition(OpenInput{
		Side:       SideLong,
		SizeUSD:    10_000_000000,
		Collateral: 1_000000,
	}, 100_000000)

	if status != StatusOK {
		t.Fatalf("status = %d, want 0", status)
	}
	if state.Leverage != 1_000_000 {
		t.Errorf("leverage = %d, want 1_000_000", state.Leverage)
	}
	if state.EntryPrice != 100_000000 {
		t.Errorf("entry price = %d, want oracle price 100_000000", state.EntryPrice)
	}
}

func TestInitPositionEntryPriceIsOraclePrice(t *testing.T) {
	// The stored entry price comes from the oracle; the quote the caller
	// sealed into the input is discarded.
	_, state := InitPosition(OpenInput{
		Side:       SideShort,
		SizeUSD:    5_000_000000,
		Collateral: 2_000000,
		EntryPrice: 1_000000,
	}, 42_000000)
	if state.EntryPrice != 42_000000 {
		t.Errorf("entry price = %d, want 42_000000", state.EntryPrice)
	}
}

func TestInitPositionStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		in         OpenInput
		price      uint64
		wantStatus uint64
	}{
		{"invalid side", OpenInput{Side: 7, SizeUSD: 1_000000, Collateral: 1_000000}, 100_000000, StatusInvalidSide},
		{"side none", OpenInput{Side: SideNone, SizeUSD: 1_000000, Collateral: 1_000000}, 100_000000, StatusInvalidSide},
		{"zero size", OpenInput{Side: SideLong, SizeUSD: 0, Collateral: 1_000000}, 100_000000, StatusZeroSize},
		{"zero collateral", OpenInput{Side: SideLong, SizeUSD: 1_000000, Collateral: 0}, 100_000000, StatusZeroCollateral},
		{"zero price", OpenInput{Side: SideLong, SizeUSD: 1_000000, Collateral: 1_000000}, 0, StatusZeroPrice},
		{"ok", OpenInput{Side: SideShort, SizeUSD: 1_000000, Collateral: 1_000000}, 100_000000, StatusOK},
	}

	for _, tt := range tests {
		status, _ := InitPosition(tt.in, tt.price)
		if status != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.name, status, tt.wantStatus)
		}
	}
}

func TestInitPositionLastViolationWins(t *testing.T) {
	// Both side and price invalid: the price check runs last and overwrites.
	status, _ := InitPosition(OpenInput{Side: 9, SizeUSD: 1_000000, Collateral: 1_000000}, 0)
	if status != StatusZeroPrice {
		t.Errorf("status = %d, want %d", status, StatusZeroPrice)
	}
}

func TestInitPositionZeroCollateralValue(t *testing.T) {
	// collateral*price/10^6 truncates to zero: leverage must fall back to 0.
	status, state := InitPosition(OpenInput{Side: SideLong, SizeUSD: 1_000000, Collateral: 1}, 100)
	if status != StatusOK {
		t.Fatalf("status = %d, want 0", status)
	}
	if state.Leverage != 0 {
		t.Errorf("leverage = %d, want 0 when collateral value truncates to zero", state.Leverage)
	}
}

func activeState() PositionState {
	// 10,000 USD long, 1 token collateral, $100 entry, 100x
	return PositionState{
		Side:       SideLong,
		SizeUSD:    10_000_000000,
		Collateral: 1_000000,
		EntryPrice: 100_000000,
		Leverage:   1_000_000,
	}
}

func TestUpdateCollateralAdd(t *testing.T) {
	state := activeState()

	status, out := UpdateCollateral(state, 1_000000, true, 2_000_000)
	if status != StatusOK {
		t.Fatalf("status = %d, want 0", status)
	}
	if out.Collateral != 2_000000 {
		t.Errorf("collateral = %d, want 2_000000", out.Collateral)
	}
	// 10,000 USD over 200 USD of collateral = 50x
	if out.Leverage != 500_000 {
		t.Errorf("leverage = %d, want 500_000", out.Leverage)
	}
}

func TestUpdateCollateralRemoveInsufficient(t *testing.T) {
	state := activeState()

	status, out := UpdateCollateral(state, 5_000000, false, 2_000_000)
	if status != StatusInsufficientCollateral {
		t.Fatalf("status = %d, want %d", status, StatusInsufficientCollateral)
	}
	if out != state {
		t.Error("failed removal must leave the state unchanged")
	}
}

func TestUpdateCollateralMaxLeverageAtomic(t *testing.T) {
	state := activeState()
	state.Collateral = 2_000000
	state.Leverage = 500_000

	// Removing half would put leverage back at 100x, above the 50x cap.
	status, out := UpdateCollateral(state, 1_000000, false, 500_000)
	if status != StatusMaxLeverageExceeded {
		t.Fatalf("status = %d, want %d", status, StatusMaxLeverageExceeded)
	}
	if out.Collateral != state.Collateral || out.Leverage != state.Leverage {
		t.Error("rejected update must not partially apply")
	}
}

func TestUpdateCollateralInsufficientBeatsLeverage(t *testing.T) {
	// Both violations present: the earlier insufficient-collateral status
	// survives, the leverage check only fires on a clean state.
	state := activeState()
	status, _ := UpdateCollateral(state, 2_000000, false, 1)
	if status != StatusInsufficientCollateral {
		t.Errorf("status = %d, want %d", status, StatusInsufficientCollateral)
	}
}

func TestCheckLiquidationAtEntryPrice(t *testing.T) {
	// Zero PnL: liquidatable iff entry leverage exceeds the cap.
	state := activeState() // 100x

	out := CheckLiquidation(state, state.EntryPrice, 500_000, 100)
	if !out.Liquidatable {
		t.Error("100x position above a 50x cap must be liquidatable at entry price")
	}

	safe := CheckLiquidation(state, state.EntryPrice, 2_000_000, 100)
	if safe.Liquidatable {
		t.Error("100x position below a 200x cap must not be liquidatable at entry price")
	}
	if safe.LiquidatorReward != 0 || safe.OwnerAmount != 0 {
		t.Error("non-liquidatable outcome must carry zero amounts")
	}
}

func TestCheckLiquidationRewardSplit(t *testing.T) {
	state := activeState()

	// Price drops to $95: loss = 5/100 * 10,000 = 500 USD.
	// collateral_usd = 95, margin = 0, leverage = sentinel.
	out := CheckLiquidation(state, 95_000000, 500_000, 500)
	if !out.Liquidatable {
		t.Fatal("underwater position must be liquidatable")
	}
	if out.LiquidatorReward != 0 || out.OwnerAmount != 0 {
		t.Error("zero margin leaves nothing to split")
	}

	// Richer position: 100 tokens collateral, price $99.
	// loss = 1/100 * 10,000 = 100 USD, collateral_usd = 9,900 USD,
	// margin = 9,800 USD, leverage = 10,000/9,800 = ~1.02x.
	rich := state
	rich.Collateral = 100_000000
	liq := CheckLiquidation(rich, 99_000000, 10_000, 500)
	if !liq.Liquidatable {
		t.Fatal("leverage above a 1x cap must be liquidatable")
	}
	wantReward := uint64(9_800_000000) * 500 / 10_000
	if liq.LiquidatorReward != wantReward {
		t.Errorf("reward = %d, want %d", liq.LiquidatorReward, wantReward)
	}
	if liq.OwnerAmount != 9_800_000000-wantReward {
		t.Errorf("owner amount = %d, want %d", liq.OwnerAmount, 9_800_000000-wantReward)
	}
}

func TestClosePositionShortLoss(t *testing.T) {
	// Short at $100, price rises to $120:
	// loss = 20_000000 * 10_000_000000 / 100_000000 = 2_000_000000
	state := PositionState{
		Side:       SideShort,
		SizeUSD:    10_000_000000,
		Collateral: 30_000000,
		EntryPrice: 100_000000,
		Leverage:   33_333,
	}

	out := ClosePosition(state, 120_000000, 0)
	if out.LossUSD != 2_000_000000 {
		t.Errorf("loss = %d, want 2_000_000000", out.LossUSD)
	}
	if out.ProfitUSD != 0 {
		t.Errorf("profit = %d, want 0", out.ProfitUSD)
	}
	// collateral_usd at exit = 30 tokens * $120 = 3,600 USD; transfer = 1,600 USD
	if out.TransferAmount != 1_600_000000 {
		t.Errorf("transfer = %d, want 1_600_000000", out.TransferAmount)
	}
}

func TestClosePositionFeeOnNotional(t *testing.T) {
	state := activeState()
	state.Collateral = 100_000000 // 100 tokens

	// Flat price, 50 bps on 10,000 USD notional = 50 USD fee.
	out := ClosePosition(state, 100_000000, 50)
	if out.FeeAmount != 50_000000 {
		t.Errorf("fee = %d, want 50_000000", out.FeeAmount)
	}
	if out.TransferAmount != 10_000_000000-50_000000 {
		t.Errorf("transfer = %d, want %d", out.TransferAmount, uint64(10_000_000000-50_000000))
	}
}

func TestClosePositionFeeExceedsGross(t *testing.T) {
	state := activeState() // 1 token collateral

	// Price collapse: gross = 0, transfer floors at 0 while the fee stands.
	out := ClosePosition(state, 50_000000, 50)
	if out.TransferAmount != 0 {
		t.Errorf("transfer = %d, want 0", out.TransferAmount)
	}
	if out.FeeAmount != 50_000000 {
		t.Errorf("fee = %d, want 50_000000", out.FeeAmount)
	}
}

func TestCalculatePnLAgreesWithClose(t *testing.T) {
	state := PositionState{
		Side:       SideShort,
		SizeUSD:    7_500_000000,
		Collateral: 40_000000,
		EntryPrice: 250_000000,
		Leverage:   75_000,
	}

	for _, price := range []uint64{200_000000, 250_000000, 300_000000} {
		pnl := CalculatePnL(state, price)
		close := ClosePosition(state, price, 0)
		if pnl.ProfitUSD != close.ProfitUSD || pnl.LossUSD != close.LossUSD {
			t.Errorf("price %d: pnl (%d, %d) disagrees with close (%d, %d)",
				price, pnl.ProfitUSD, pnl.LossUSD, close.ProfitUSD, close.LossUSD)
		}
	}
}

func TestCalculatePnLIdempotent(t *testing.T) {
	state := activeState()

	first := CalculatePnL(state, 110_000000)
	second := CalculatePnL(state, 110_000000)
	if first != second {
		t.Errorf("repeated calls diverged: %+v vs %+v", first, second)
	}
}

func TestCalculatePnLZeroMarginSentinel(t *testing.T) {
	state := activeState()

	// Deep loss wipes the margin: leverage reports the sentinel.
	out := CalculatePnL(state, 50_000000)
	if out.CurrentLeverage != fixed.MaxLeverageSentinel {
		t.Errorf("leverage = %d, want sentinel %d", out.CurrentLeverage, uint64(fixed.MaxLeverageSentinel))
	}
}
