package vault

import "math/bits"

// All value and share arithmetic is unsigned 64-bit, promoted to 128 bits
// for multiply-then-divide sequences and narrowed back. Overflow, narrowing
// overflow and division by zero abort the whole operation; nothing saturates.

// CheckedAdd returns a + b or ErrMathOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrMathUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrMathUnderflow
	}
	return diff, nil
}

// CheckedMul returns a * b or ErrMathOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrMathOverflow
	}
	return lo, nil
}

// CheckedDiv returns a / b or ErrDivisionByZero.
func CheckedDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

// MulDiv returns floor(a * b / den) with the product held in 128 bits.
// Fails if den == 0 or the quotient does not fit in 64 bits.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivisionByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, ErrMathOverflow
	}
	quo, _ := bits.Div64(hi, lo, den)
	return quo, nil
}

// Bps returns floor(value * bps / 10000).
func Bps(value uint64, bps uint16) (uint64, error) {
	return MulDiv(value, uint64(bps), BpsDenominator)
}

// SharePriceOf returns the value per share scaled by SharePrecision.
// An empty vault prices at exactly SharePrecision (1:1).
func SharePriceOf(totalValue, totalShares uint64) (uint64, error) {
	if totalShares == 0 {
		return SharePrecision, nil
	}
	return MulDiv(totalValue, SharePrecision, totalShares)
}

// SharesForDeposit returns the shares minted for a deposit at the current
// pool ratio: floor(deposit * totalShares / totalValue). First-deposit
// handling (the dead-share floor) is the deposit engine's responsibility.
func SharesForDeposit(deposit, totalValue, totalShares uint64) (uint64, error) {
	if totalShares == 0 || totalValue == 0 {
		return deposit, nil
	}
	return MulDiv(deposit, totalShares, totalValue)
}

// ValueForShares returns the value a share count redeems for:
// floor(shares * totalValue / totalShares).
func ValueForShares(shares, totalValue, totalShares uint64) (uint64, error) {
	if totalShares == 0 {
		return 0, nil
	}
	return MulDiv(shares, totalValue, totalShares)
}

func absDiffBps(a, b uint16) uint16 {
	if a > b {
		return a - b
	}
	return b - a
}
