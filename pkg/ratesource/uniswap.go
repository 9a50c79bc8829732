package ratesource

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"stableswap/pkg/tokens"
	"stableswap/pkg/types"
)

var (
	UniswapV2Factory      = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	UniswapV2InitCodeHash = common.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")
)

// PairReader is the chain access the Uniswap V2 source needs
type PairReader interface {
	HasCode(ctx context.Context, addr common.Address) (bool, error)
	PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error)
	PairReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error)
}

// UniswapV2 prices a token from the reserves of its wrapped-native pair
type UniswapV2 struct {
	reader       PairReader
	factory      common.Address
	initCodeHash common.Hash
}

// NewUniswapV2 creates a pair-reserve source. Zero factory or hash values
// select the canonical Uniswap V2 deployment.
func NewUniswapV2(reader PairReader, factory common.Address, initCodeHash common.Hash) *UniswapV2 {
	if factory == (common.Address{}) {
		factory = UniswapV2Factory
	}
	if initCodeHash == (common.Hash{}) {
		initCodeHash = UniswapV2InitCodeHash
	}
	return &UniswapV2{reader: reader, factory: factory, initCodeHash: initCodeHash}
}

func (u *UniswapV2) Name() string { return "uniswap-v2" }

// Fetch returns quote-token units per one unit of the wrapped native asset
func (u *UniswapV2) Fetch(ctx context.Context, network types.Network, token types.Token) (*big.Rat, error) {
	base, err := BaseAsset(network)
	if err != nil {
		return nil, err
	}

	pair := PairAddress(u.factory, u.initCodeHash, base, token.Address)

	deployed, err := u.reader.HasCode(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCFailure, err)
	}
	if !deployed {
		return nil, fmt.Errorf("%w: no pair for %s at %s", ErrNoLiquidityPool, token.Symbol, pair.Hex())
	}

	token0, token1, err := u.reader.PairTokens(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCFailure, err)
	}
	reserve0, reserve1, err := u.reader.PairReserves(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCFailure, err)
	}

	var baseReserve, quoteReserve *big.Int
	switch {
	case token0 == base && token1 == token.Address:
		baseReserve, quoteReserve = reserve0, reserve1
	case token1 == base && token0 == token.Address:
		baseReserve, quoteReserve = reserve1, reserve0
	default:
		return nil, fmt.Errorf("%w: pair %s holds %s/%s", ErrNoLiquidityPool, pair.Hex(), token0.Hex(), token1.Hex())
	}
	if baseReserve.Sign() <= 0 || quoteReserve.Sign() <= 0 {
		return nil, fmt.Errorf("%w: pair %s has empty reserves", ErrNoLiquidityPool, pair.Hex())
	}

	return ReservePrice(baseReserve, 18, quoteReserve, token.Decimals), nil
}

// BaseAsset returns the wrapped-native token used as the pricing base
func BaseAsset(network types.Network) (common.Address, error) {
	if network.WrappedNative != (common.Address{}) {
		return network.WrappedNative, nil
	}
	if network.IsETHLike() {
		return tokens.MainnetWETH, nil
	}
	return common.Address{}, fmt.Errorf("%w: %s native asset %s has no wrapped-native mapping", ErrUnsupported, network.Name, network.NativeSymbol)
}

// ReservePrice computes quoteReserve/baseReserve adjusted for both tokens' decimals
func ReservePrice(baseReserve *big.Int, baseDecimals uint8, quoteReserve *big.Int, quoteDecimals uint8) *big.Rat {
	num := new(big.Int).Mul(quoteReserve, pow10(baseDecimals))
	den := new(big.Int).Mul(baseReserve, pow10(quoteDecimals))
	return new(big.Rat).SetFrac(num, den)
}

// PairAddress derives a Uniswap V2 pair address with the CREATE2 rule
func PairAddress(factory common.Address, initCodeHash common.Hash, a, b common.Address) common.Address {
	token0, token1 := a, b
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		token0, token1 = b, a
	}
	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes())
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
