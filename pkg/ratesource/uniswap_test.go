package ratesource

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stableswap/pkg/tokens"
	"stableswap/pkg/types"
)

type fakePairReader struct {
	code     bool
	token0   common.Address
	token1   common.Address
	reserve0 *big.Int
	reserve1 *big.Int
	err      error
	pairs    []common.Address
}

func (f *fakePairReader) HasCode(_ context.Context, addr common.Address) (bool, error) {
	f.pairs = append(f.pairs, addr)
	return f.code, nil
}

func (f *fakePairReader) PairTokens(context.Context, common.Address) (common.Address, common.Address, error) {
	if f.err != nil {
		return common.Address{}, common.Address{}, f.err
	}
	return f.token0, f.token1, nil
}

func (f *fakePairReader) PairReserves(context.Context, common.Address) (*big.Int, *big.Int, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.reserve0, f.reserve1, nil
}

var (
	mainnet = types.Network{ChainID: 1, Name: "Ethereum", NativeSymbol: "ETH", WrappedNative: tokens.MainnetWETH}
	usdc    = types.Token{Address: tokens.MainnetUSDC, Symbol: "USDC", Decimals: 6, ChainID: 1}
	dai     = types.Token{Address: tokens.MainnetDAI, Symbol: "DAI", Decimals: 18, ChainID: 1}
)

func TestPairAddress_MatchesMainnetDeployments(t *testing.T) {
	got := PairAddress(UniswapV2Factory, UniswapV2InitCodeHash, tokens.MainnetWETH, tokens.MainnetUSDC)
	assert.Equal(t, common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"), got)

	// argument order does not matter
	got = PairAddress(UniswapV2Factory, UniswapV2InitCodeHash, tokens.MainnetDAI, tokens.MainnetWETH)
	assert.Equal(t, common.HexToAddress("0xA478c2975Ab1Ea89e8196811F51A7B7Ade33eB11"), got)
}

func TestUniswapV2_Fetch_QuoteTokenIsToken0(t *testing.T) {
	// USDC sorts before WETH: reserve0 is USDC (6 decimals), reserve1 is WETH
	reader := &fakePairReader{
		code:     true,
		token0:   tokens.MainnetUSDC,
		token1:   tokens.MainnetWETH,
		reserve0: big.NewInt(25_000_000_000_000),                      // 25,000,000 USDC
		reserve1: new(big.Int).Mul(big.NewInt(10_000), big.NewInt(1e18)), // 10,000 WETH
	}
	src := NewUniswapV2(reader, common.Address{}, common.Hash{})

	price, err := src.Fetch(context.Background(), mainnet, usdc)
	require.NoError(t, err)
	assert.Equal(t, "2500", price.RatString())
	require.Len(t, reader.pairs, 1)
	assert.Equal(t, common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"), reader.pairs[0])
}

func TestUniswapV2_Fetch_QuoteTokenIsToken1(t *testing.T) {
	reader := &fakePairReader{
		code:     true,
		token0:   tokens.MainnetWETH,
		token1:   tokens.MainnetDAI,
		reserve0: new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		reserve1: new(big.Int).Mul(big.NewInt(5020), big.NewInt(1e18)),
	}
	src := NewUniswapV2(reader, common.Address{}, common.Hash{})

	price, err := src.Fetch(context.Background(), mainnet, dai)
	require.NoError(t, err)
	assert.Equal(t, "2510", price.RatString())
}

func TestUniswapV2_Fetch_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no pool deployed", func(t *testing.T) {
		src := NewUniswapV2(&fakePairReader{code: false}, common.Address{}, common.Hash{})
		_, err := src.Fetch(ctx, mainnet, usdc)
		require.ErrorIs(t, err, ErrNoLiquidityPool)
	})

	t.Run("pair holds other tokens", func(t *testing.T) {
		reader := &fakePairReader{code: true, token0: common.Address{1}, token1: common.Address{2}, reserve0: big.NewInt(1), reserve1: big.NewInt(1)}
		_, err := NewUniswapV2(reader, common.Address{}, common.Hash{}).Fetch(ctx, mainnet, usdc)
		require.ErrorIs(t, err, ErrNoLiquidityPool)
	})

	t.Run("empty reserves", func(t *testing.T) {
		reader := &fakePairReader{code: true, token0: tokens.MainnetUSDC, token1: tokens.MainnetWETH, reserve0: big.NewInt(0), reserve1: big.NewInt(0)}
		_, err := NewUniswapV2(reader, common.Address{}, common.Hash{}).Fetch(ctx, mainnet, usdc)
		require.ErrorIs(t, err, ErrNoLiquidityPool)
	})

	t.Run("rpc failure", func(t *testing.T) {
		reader := &fakePairReader{code: true, err: errors.New("timeout")}
		_, err := NewUniswapV2(reader, common.Address{}, common.Hash{}).Fetch(ctx, mainnet, usdc)
		require.ErrorIs(t, err, ErrRPCFailure)
	})

	t.Run("native asset not ETH-like", func(t *testing.T) {
		polygon := types.Network{ChainID: 137, Name: "Polygon", NativeSymbol: "POL"}
		_, err := NewUniswapV2(&fakePairReader{code: true}, common.Address{}, common.Hash{}).Fetch(ctx, polygon, usdc)
		require.ErrorIs(t, err, ErrUnsupported)
	})
}

func TestBaseAsset_ETHLikeWithoutMappingUsesMainnetWETH(t *testing.T) {
	base, err := BaseAsset(types.Network{ChainID: 31337, NativeSymbol: "ETH"})
	require.NoError(t, err)
	assert.Equal(t, tokens.MainnetWETH, base)

	mapped := common.HexToAddress("0x0000000000000000000000000000000000001010")
	base, err = BaseAsset(types.Network{ChainID: 137, NativeSymbol: "POL", WrappedNative: mapped})
	require.NoError(t, err)
	assert.Equal(t, mapped, base)
}

func TestQuotedPrice(t *testing.T) {
	price, err := QuotedPrice("1", "2504.25")
	require.NoError(t, err)
	assert.Equal(t, "10017/4", price.RatString())

	_, err = QuotedPrice("0", "1")
	require.ErrorIs(t, err, ErrRPCFailure)

	_, err = QuotedPrice("1", "n/a")
	require.ErrorIs(t, err, ErrRPCFailure)
}

func TestLimited_PassesThroughAndRespectsContext(t *testing.T) {
	calls := 0
	inner := SourceFunc(func(context.Context, types.Network, types.Token) (*big.Rat, error) {
		calls++
		return big.NewRat(2500, 1), nil
	})
	lim := NewLimited(inner, 0.001, 1)

	price, err := lim.Fetch(context.Background(), mainnet, usdc)
	require.NoError(t, err)
	assert.Equal(t, "2500", price.RatString())

	// the bucket is empty now; a cancelled context must not wait
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = lim.Fetch(ctx, mainnet, usdc)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
