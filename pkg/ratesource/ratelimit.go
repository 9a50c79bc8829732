package ratesource

import (
	"context"
	"math/big"

	"golang.org/x/time/rate"

	"stableswap/pkg/types"
)

// Limited wraps a Source and gates calls through a token bucket so pollers
// across many keys cannot hammer the upstream RPC.
type Limited struct {
	Source  Source
	Limiter *rate.Limiter
}

// NewLimited allows perSecond fetches with the given burst
func NewLimited(src Source, perSecond float64, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Limited{Source: src, Limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) Name() string { return l.Source.Name() }

func (l *Limited) Fetch(ctx context.Context, network types.Network, token types.Token) (*big.Rat, error) {
	if l.Limiter != nil {
		if err := l.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return l.Source.Fetch(ctx, network, token)
}
