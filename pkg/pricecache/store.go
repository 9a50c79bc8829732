package pricecache

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the last good price per key so a restarted process can
// serve a (stale) value before its first fetch completes.
type Store interface {
	Save(ctx context.Context, key Key, price *big.Rat, fetchedAt time.Time) error
	// Load returns ok=false when nothing is stored for key.
	Load(ctx context.Context, key Key) (price *big.Rat, fetchedAt time.Time, ok bool, err error)
}

// RedisStore keeps each price in a hash at "<prefix>price:<key>" with fields
// "price" (exact rational) and "ts" (Unix nanoseconds).
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Store on an existing client
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection with PING
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *RedisStore) priceKey(key Key) string {
	return s.prefix + "price:" + key.String()
}

func (s *RedisStore) Save(ctx context.Context, key Key, price *big.Rat, fetchedAt time.Time) error {
	err := s.rdb.HSet(ctx, s.priceKey(key),
		"price", price.RatString(),
		"ts", strconv.FormatInt(fetchedAt.UnixNano(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key Key) (*big.Rat, time.Time, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, s.priceKey(key)).Result()
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	priceStr, okPrice := vals["price"]
	tsStr, okTS := vals["ts"]
	if !okPrice || !okTS {
		return nil, time.Time{}, false, nil
	}

	price, ok := new(big.Rat).SetString(priceStr)
	if !ok || price.Sign() <= 0 {
		return nil, time.Time{}, false, fmt.Errorf("redis: parse price %s: %q", key, priceStr)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	return price, time.Unix(0, tsNano), true, nil
}

var _ Store = (*RedisStore)(nil)
