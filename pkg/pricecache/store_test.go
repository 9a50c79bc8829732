package pricecache

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcPriceKey = "stableswap:price:1:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

func newMockStore(t *testing.T) (*RedisStore, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewRedisStore(db, "stableswap:"), mock
}

func TestRedisStore_SaveEncodesHash(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Unix(1_700_000_000, 123)

	mock.ExpectHSet(usdcPriceKey, "price", "5001/2", "ts", "1700000000000000123").SetVal(2)
	require.NoError(t, store.Save(context.Background(), usdcKey, big.NewRat(5001, 2), at))
}

func TestRedisStore_SaveError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectHSet(usdcPriceKey, "price", "2500", "ts", "0").SetErr(errors.New("READONLY"))
	err := store.Save(context.Background(), usdcKey, big.NewRat(2500, 1), time.Unix(0, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: set price")
}

func TestRedisStore_Load(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectHGetAll(usdcPriceKey).SetVal(map[string]string{
		"price": "5001/2",
		"ts":    "1700000000000000123",
	})
	price, at, ok, err := store.Load(context.Background(), usdcKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "5001/2", price.RatString())
	assert.True(t, at.Equal(time.Unix(1_700_000_000, 123)))
}

func TestRedisStore_LoadMissing(t *testing.T) {
	tests := []struct {
		name string
		vals map[string]string
	}{
		{"no hash", map[string]string{}},
		{"no ts", map[string]string{"price": "2500"}},
		{"no price", map[string]string{"ts": "1700000000000000000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectHGetAll(usdcPriceKey).SetVal(tt.vals)

			price, at, ok, err := store.Load(context.Background(), usdcKey)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, price)
			assert.True(t, at.IsZero())
		})
	}
}

func TestRedisStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		vals map[string]string
		want string
	}{
		{"bad price", map[string]string{"price": "abc", "ts": "1"}, "redis: parse price"},
		{"zero price", map[string]string{"price": "0", "ts": "1"}, "redis: parse price"},
		{"negative price", map[string]string{"price": "-3/2", "ts": "1"}, "redis: parse price"},
		{"bad ts", map[string]string{"price": "2500", "ts": "yesterday"}, "redis: parse ts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectHGetAll(usdcPriceKey).SetVal(tt.vals)

			_, _, ok, err := store.Load(context.Background(), usdcKey)
			require.Error(t, err)
			assert.False(t, ok)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedisStore_LoadError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectHGetAll(usdcPriceKey).SetErr(errors.New("connection refused"))

	_, _, ok, err := store.Load(context.Background(), usdcKey)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "redis: get price")
}
