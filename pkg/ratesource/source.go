// Package ratesource fetches spot exchange rates for a stable token against a
// network's native asset. Sources hold no state; every Fetch is a real round trip.
package ratesource

import (
	"context"
	"errors"
	"math/big"

	"stableswap/pkg/types"
)

var (
	ErrUnsupported     = errors.New("unsupported network")
	ErrNoLiquidityPool = errors.New("no liquidity pool")
	ErrRPCFailure      = errors.New("rpc failure")
)

// Source resolves the price of one unit of the base asset in quote-token units
type Source interface {
	Name() string
	Fetch(ctx context.Context, network types.Network, token types.Token) (*big.Rat, error)
}

// SourceFunc adapts ordinary functions to Source
type SourceFunc func(ctx context.Context, network types.Network, token types.Token) (*big.Rat, error)

// Name implements Source.
func (f SourceFunc) Name() string { return "func" }

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, network types.Network, token types.Token) (*big.Rat, error) {
	return f(ctx, network, token)
}
