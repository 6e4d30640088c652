package fixed

import (
	"math/big"
	"sync"
)

// Wire-level fixed-point encodings. All monetary quantities travel as
// unsigned integers; signed results are expressed as separate profit and
// loss magnitudes.
const (
	// USDScale is 10^6: one USD is 1_000_000 units.
	USDScale = 1_000_000

	// LeverageScale is 10^4: 50_000 encodes 5.0x.
	LeverageScale = 10_000

	// BpsDivisor is 10^4: fees and ratios are quoted in basis points.
	BpsDivisor = 10_000

	// MaxLeverageSentinel stands in for infinite leverage when margin
	// reaches zero (100x at LeverageScale).
	MaxLeverageSentinel = 1_000_000
)

// Pooled big.Int for 128-bit intermediates
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetUint64(0) // Clear before returning to pool
	intPool.Put(v)
}

// MulDiv computes a*b/c with a 128-bit intermediate, truncating toward
// zero. A zero divisor yields fallback instead of failing: callers in the
// confidential path cannot branch on secret values, so every division must
// stay total. The quotient narrows back to uint64 (low 64 bits).
func MulDiv(a, b, c, fallback uint64) uint64 {
	if c == 0 {
		return fallback
	}

	prod := getInt()
	tmp := getInt()

	prod.SetUint64(a)
	tmp.SetUint64(b)
	prod.Mul(prod, tmp)

	tmp.SetUint64(c)
	prod.Div(prod, tmp)

	result := prod.Uint64()

	putInt(prod)
	putInt(tmp)

	return result
}

// CollateralUSD converts a collateral token amount to USD at the given
// 6-decimal price: tokens * price / 10^6.
func CollateralUSD(tokens, priceUSD uint64) uint64 {
	return MulDiv(tokens, priceUSD, USDScale, 0)
}

// Leverage computes position leverage at LeverageScale:
// size_usd * 10^4 / collateral_usd. Zero collateral yields zero leverage;
// the caller decides whether that means "invalid" or "no exposure".
func Leverage(sizeUSD, collateralUSD uint64) uint64 {
	return MulDiv(sizeUSD, LeverageScale, collateralUSD, 0)
}

// LeverageAtMargin is Leverage with the zero-margin case mapped to the
// max-leverage sentinel, the convention for post-entry margin checks.
func LeverageAtMargin(sizeUSD, marginUSD uint64) uint64 {
	return MulDiv(sizeUSD, LeverageScale, marginUSD, MaxLeverageSentinel)
}

// BpsOf applies a basis-point rate: amount * bps / 10^4.
func BpsOf(amount, bps uint64) uint64 {
	return MulDiv(amount, bps, BpsDivisor, 0)
}

// UtilizationBps returns locked/owned in basis points, 0 when owned is 0.
func UtilizationBps(locked, owned uint64) uint64 {
	return MulDiv(locked, BpsDivisor, owned, 0)
}

// SubFloor returns a-b floored at zero.
func SubFloor(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// AddChecked returns a+b and false on uint64 overflow.
func AddChecked(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}
