// Package quote estimates the native output of a swap path, preferring the
// router's on-chain quote and falling back to the cached spot price.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stableswap/pkg/pricecache"
	"stableswap/pkg/types"
)

var (
	ErrNoQuoteAvailable = errors.New("no quote available")
	ErrInvalidPath      = errors.New("invalid swap path")
)

const DefaultTimeout = 10 * time.Second

// Source tags where a quote's output amount came from
type Source int

const (
	OnChain Source = iota
	CacheFallback
)

func (s Source) String() string {
	switch s {
	case OnChain:
		return "on-chain"
	case CacheFallback:
		return "cache-fallback"
	default:
		return "unknown"
	}
}

// Quote is an expected output for one path.
type Quote struct {
	Path      []common.Address
	AmountIn  *big.Int
	AmountOut *big.Int // native smallest unit
	Source    Source
}

// Estimate reports whether the amount is derived from a cached price
func (q Quote) Estimate() bool { return q.Source == CacheFallback }

// Router is the read-only quoting entry point of a Uniswap V2 style router
type Router interface {
	GetAmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// PriceReader is the non-blocking read side of the price cache
type PriceReader interface {
	Get(key pricecache.Key) pricecache.Snapshot
}

// TokenLookup resolves allow-listed token metadata
type TokenLookup interface {
	Token(chainID int64, addr common.Address) (types.Token, bool)
}

type Engine struct {
	router        Router
	routerAddress common.Address
	prices        PriceReader
	tokens        TokenLookup
	chainID       int64
	timeout       time.Duration
	logger        *slog.Logger
}

type Option func(*Engine)

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a quote engine for one network
func NewEngine(router Router, routerAddress common.Address, prices PriceReader, tokens TokenLookup, chainID int64, opts ...Option) *Engine {
	e := &Engine{
		router:        router,
		routerAddress: routerAddress,
		prices:        prices,
		tokens:        tokens,
		chainID:       chainID,
		timeout:       DefaultTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RouterAddress returns the router being quoted
func (e *Engine) RouterAddress() common.Address { return e.routerAddress }

// Quote returns the expected output of swapping amountIn along path. A
// router failure of any kind (revert, RPC error, timeout, empty result)
// falls back to the cached price of path[0]; without a fresh cached price
// the result is ErrNoQuoteAvailable.
func (e *Engine) Quote(ctx context.Context, path []common.Address, amountIn *big.Int) (Quote, error) {
	if len(path) < 2 {
		return Quote{}, fmt.Errorf("%w: need at least two hops, got %d", ErrInvalidPath, len(path))
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: amount in must be positive", ErrInvalidPath)
	}

	out, routerErr := e.onChain(ctx, path, amountIn)
	if routerErr == nil {
		return Quote{Path: path, AmountIn: new(big.Int).Set(amountIn), AmountOut: out, Source: OnChain}, nil
	}
	if ctx.Err() != nil {
		return Quote{}, ctx.Err()
	}

	e.logger.Warn("router quote failed, falling back to cached price",
		"router", e.routerAddress.Hex(), "token", path[0].Hex(), "err", routerErr)

	out, err := e.fromCache(path[0], amountIn)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: router: %v; cache: %v", ErrNoQuoteAvailable, routerErr, err)
	}
	return Quote{Path: path, AmountIn: new(big.Int).Set(amountIn), AmountOut: out, Source: CacheFallback}, nil
}

func (e *Engine) onChain(ctx context.Context, path []common.Address, amountIn *big.Int) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	amounts, err := e.router.GetAmountsOut(ctx, e.routerAddress, amountIn, path)
	if err != nil {
		return nil, err
	}
	if len(amounts) == 0 || amounts[len(amounts)-1] == nil {
		return nil, errors.New("router returned no amounts")
	}
	return new(big.Int).Set(amounts[len(amounts)-1]), nil
}

func (e *Engine) fromCache(tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	token, ok := e.tokens.Token(e.chainID, tokenIn)
	if !ok {
		return nil, fmt.Errorf("token %s is not allow-listed", tokenIn.Hex())
	}
	snap := e.prices.Get(pricecache.Key{ChainID: e.chainID, Token: tokenIn})
	if !snap.Found() {
		return nil, errors.New("no cached price")
	}
	if snap.Stale {
		return nil, fmt.Errorf("cached price is stale (fetched %s)", snap.FetchedAt.Format(time.RFC3339))
	}
	return NativeOut(amountIn, token.Decimals, snap.Price)
}

// NativeOut converts a token amount into native wei at price (token units
// per native unit), rounding down.
func NativeOut(amountIn *big.Int, tokenDecimals uint8, price *big.Rat) (*big.Int, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, errors.New("price must be positive")
	}
	// amountIn * 10^18 * den / (num * 10^tokenDecimals)
	num := new(big.Int).Mul(amountIn, pow10(18))
	num.Mul(num, price.Denom())
	den := new(big.Int).Mul(price.Num(), pow10(tokenDecimals))
	return num.Quo(num, den), nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
