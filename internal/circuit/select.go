package circuit

import "math/bits"

// Secret-dependent decisions are made arithmetically: both branches are
// computed and one is selected by a 0/1 mask, never by control flow.

// ltMask returns 1 when a < b, else 0.
func ltMask(a, b uint64) uint64 {
	_, borrow := bits.Sub64(a, b, 0)
	return borrow
}

// gtMask returns 1 when a > b, else 0.
func gtMask(a, b uint64) uint64 {
	return ltMask(b, a)
}

// eqMask returns 1 when a == b, else 0.
func eqMask(a, b uint64) uint64 {
	x := a ^ b
	return 1 &^ ((x | -x) >> 63)
}

// isZero returns 1 when v == 0, else 0.
func isZero(v uint64) uint64 {
	return eqMask(v, 0)
}

// not flips a 0/1 mask.
func not(mask uint64) uint64 {
	return mask ^ 1
}

// pick returns a when mask is 1, b when mask is 0. Mod-2^64 arithmetic
// keeps the unselected branch's wraparound harmless.
func pick(mask, a, b uint64) uint64 {
	return b + mask*(a-b)
}
