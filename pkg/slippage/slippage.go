// Package slippage computes the minimum acceptable swap output on the
// token-unit scale the chain enforces.
package slippage

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// BpsDenominator is 100%
const BpsDenominator = 10_000

var (
	ErrInvalidTolerance = errors.New("slippage tolerance must be in [1, 10000) bps")
	ErrInvalidAmount    = errors.New("amount must be a non-negative 256-bit integer")
)

// ValidTolerance reports whether bps lies in [1, 10000)
func ValidTolerance(bps uint32) bool {
	return bps >= 1 && bps < BpsDenominator
}

// MinOut returns floor(amountOut * (10000 - bps) / 10000).
func MinOut(amountOut *big.Int, bps uint32) (*big.Int, error) {
	if !ValidTolerance(bps) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTolerance, bps)
	}
	if amountOut == nil || amountOut.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(amountOut)
	if overflow {
		return nil, ErrInvalidAmount
	}

	keep := uint256.NewInt(uint64(BpsDenominator - bps))
	denom := uint256.NewInt(BpsDenominator)
	// the 512-bit intermediate cannot overflow the quotient since keep < denom
	min, _ := new(uint256.Int).MulDivOverflow(out, keep, denom)
	return min.ToBig(), nil
}

// FallbackMinOut applies the tolerance twice for quotes derived from a
// cached price rather than the router. The effective discount
// 1-(1-t)^2 is strictly larger than t for every valid t.
func FallbackMinOut(amountOut *big.Int, bps uint32) (*big.Int, error) {
	once, err := MinOut(amountOut, bps)
	if err != nil {
		return nil, err
	}
	return MinOut(once, bps)
}
