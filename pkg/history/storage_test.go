package history

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stableswap/pkg/swap"
)

func result(state swap.State, startedAt time.Time) swap.Result {
	hash := common.Hash{0xab}
	return swap.Result{
		ID:          uuid.New(),
		ChainID:     1,
		Caller:      common.HexToAddress("0xc0ffe"),
		InputToken:  common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		TokenSymbol: "USDC",
		AmountIn:    big.NewInt(100_000_000),
		State:       state,
		AmountOut:   big.NewInt(40_000_000_000_000_000),
		SwapTx:      &hash,
		StartedAt:   startedAt,
		FinishedAt:  startedAt.Add(time.Second),
		Trace: []swap.Transition{
			{From: swap.StateIdle, To: swap.StateCheckingAllowance, At: startedAt},
		},
	}
}

func TestStorage_RecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	s, err := NewStorage(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Count())

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := result(swap.StateConfirmed, base)
	second := result(swap.StateFailed, base.Add(time.Minute))
	require.NoError(t, s.Record(context.Background(), first))
	require.NoError(t, s.Record(context.Background(), second))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := NewStorage(path, 0)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Count())

	got, err := reloaded.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.AmountIn, got.AmountIn)
	assert.Equal(t, first.AmountOut, got.AmountOut)
	assert.Equal(t, *first.SwapTx, *got.SwapTx)
	assert.Equal(t, first.Trace, got.Trace)
	assert.True(t, first.StartedAt.Equal(got.StartedAt))

	list := reloaded.List(0)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	failed := reloaded.ListByState(swap.StateFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, second.ID, failed[0].ID)

	_, err = reloaded.Get(uuid.New())
	require.Error(t, err)
}

func TestStorage_MaxRecords(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "history.json"), 2)
	require.NoError(t, err)

	base := time.Now()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		r := result(swap.StateConfirmed, base.Add(time.Duration(i)*time.Second))
		ids = append(ids, r.ID)
		require.NoError(t, s.Record(context.Background(), r))
	}

	assert.Equal(t, 2, s.Count())
	_, err = s.Get(ids[0])
	assert.Error(t, err)
	assert.Len(t, s.List(1), 1)
}

func TestStorage_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewStorage(path, 0)
	require.Error(t, err)
}

func TestStorage_RecordKeepsOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	a, err := NewStorage(path, 0)
	require.NoError(t, err)
	b, err := NewStorage(path, 0)
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := result(swap.StateConfirmed, base)
	second := result(swap.StateFailed, base.Add(time.Minute))
	require.NoError(t, a.Record(context.Background(), first))
	require.NoError(t, b.Record(context.Background(), second))

	reloaded, err := NewStorage(path, 0)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Count())
	_, err = reloaded.Get(first.ID)
	assert.NoError(t, err)
	_, err = reloaded.Get(second.ID)
	assert.NoError(t, err)
}
