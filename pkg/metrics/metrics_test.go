package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stableswap/pkg/swap"
)

func TestMetrics_Observations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveFetch("uniswap-v2", 20*time.Millisecond, nil)
	m.ObserveFetch("uniswap-v2", 10*time.Millisecond, errors.New("boom"))
	m.ObserveFetch("uniswap-v2", 10*time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetches.WithLabelValues("uniswap-v2", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("uniswap-v2", "error")))

	m.ObserveSwap(swap.StateConfirmed, "", "on-chain", 12)
	m.ObserveSwap(swap.StateFailed, swap.KindExecutionReverted, "cache-fallback", 30)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.swaps.WithLabelValues("confirmed", "", "on-chain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.swaps.WithLabelValues("failed", "execution_reverted", "cache-fallback")))

	m.ObservePriceAge("1:0xabc", 3*time.Second)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.priceAge.WithLabelValues("1:0xabc")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestDefault_IsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
