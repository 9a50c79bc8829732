package slippage

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinOut(t *testing.T) {
	tests := []struct {
		name string
		out  string
		bps  uint32
		want string
	}{
		{"half percent", "40000000000000000", 50, "39800000000000000"},
		{"rounds down", "999", 1, "998"},
		{"one bps of small amount", "1", 1, "0"},
		{"max tolerance", "10000", 9999, "1"},
		{"zero amount", "0", 50, "0"},
		{"uint256 max", "115792089237316195423570985008687907853269984665640564039457584007913129639935", 1,
			"115780510028392463804028627910187039062484657667173999983053638249512338326971"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := new(big.Int).SetString(tt.out, 10)
			require.True(t, ok)

			got, err := MinOut(out, tt.bps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())

			// never rounds up: min * 10000 <= out * (10000 - bps)
			lhs := new(big.Int).Mul(got, big.NewInt(BpsDenominator))
			rhs := new(big.Int).Mul(out, big.NewInt(int64(BpsDenominator-tt.bps)))
			assert.True(t, lhs.Cmp(rhs) <= 0)
		})
	}
}

func TestMinOut_Rejects(t *testing.T) {
	_, err := MinOut(big.NewInt(100), 0)
	require.ErrorIs(t, err, ErrInvalidTolerance)

	_, err = MinOut(big.NewInt(100), 10_000)
	require.ErrorIs(t, err, ErrInvalidTolerance)

	_, err = MinOut(big.NewInt(-1), 50)
	require.ErrorIs(t, err, ErrInvalidAmount)

	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = MinOut(tooBig, 50)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFallbackMinOut_StrictlyWider(t *testing.T) {
	out := big.NewInt(40_000_000_000_000_000) // 0.04 ETH

	for _, bps := range []uint32{1, 50, 100, 5000, 9999} {
		normal, err := MinOut(out, bps)
		require.NoError(t, err)
		fallback, err := FallbackMinOut(out, bps)
		require.NoError(t, err)
		assert.Equal(t, -1, fallback.Cmp(normal), "bps=%d", bps)
	}

	fallback, err := FallbackMinOut(out, 50)
	require.NoError(t, err)
	assert.Equal(t, "39601000000000000", fallback.String())
}
