package cmd

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stableswap/pkg/quote"
	"stableswap/pkg/swap"
	"stableswap/pkg/tokens"
)

func TestResolvePaths(t *testing.T) {
	allow := tokens.Default()
	usdc, dai, weth := tokens.MainnetUSDC, tokens.MainnetDAI, tokens.MainnetWETH
	other := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	tests := []struct {
		name string
		raw  []string
		want [][]common.Address
	}{
		{"default direct path", nil, [][]common.Address{{usdc, weth}}},
		{"full path", []string{"USDC,DAI,WETH"}, [][]common.Address{{usdc, dai, weth}}},
		{"endpoints added", []string{"dai"}, [][]common.Address{{usdc, dai, weth}}},
		{"eth alias", []string{"USDC,ETH"}, [][]common.Address{{usdc, weth}}},
		{"address hop", []string{other.Hex()}, [][]common.Address{{usdc, other, weth}}},
		{"several", []string{"USDC,WETH", "DAI"}, [][]common.Address{{usdc, weth}, {usdc, dai, weth}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePaths(allow, tokens.Mainnet, usdc, weth, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := resolvePaths(allow, tokens.Mainnet, usdc, weth, []string{"USDC,NOPE"})
	require.Error(t, err)
}

func TestMinOutFor_FallbackIsWider(t *testing.T) {
	onChain := quote.Quote{AmountOut: big.NewInt(1_000_000), Source: quote.OnChain}
	fallback := quote.Quote{AmountOut: big.NewInt(1_000_000), Source: quote.CacheFallback}

	a, err := minOutFor(onChain, 50)
	require.NoError(t, err)
	b, err := minOutFor(fallback, 50)
	require.NoError(t, err)

	assert.Equal(t, "995000", a.String())
	assert.Equal(t, -1, b.Cmp(a))
}

func TestFilterTokens(t *testing.T) {
	got := filterTokens(tokens.Default(), tokens.Mainnet, "us")
	require.Len(t, got, 1)
	assert.Equal(t, "USDC", got[0].Symbol)

	assert.Len(t, filterTokens(tokens.Default(), tokens.Mainnet, ""), 2)
}

func TestDescribeState(t *testing.T) {
	assert.Equal(t, "Quoting paths...", describeState(swap.StateQuoting))
	assert.Equal(t, "failed", describeState(swap.StateFailed))
}

func TestBpsPercent(t *testing.T) {
	assert.Equal(t, "0.50%", bpsPercent(50))
	assert.Equal(t, "12.34%", bpsPercent(1234))
}

func TestCheckConfirmation(t *testing.T) {
	assert.NoError(t, checkConfirmation(false, false))
	assert.NoError(t, checkConfirmation(false, true))
	assert.NoError(t, checkConfirmation(true, true))
	assert.ErrorContains(t, checkConfirmation(true, false), "--yes")
}
