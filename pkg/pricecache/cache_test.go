package pricecache

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stableswap/pkg/tokens"
	"stableswap/pkg/types"
)

// stubSource returns the queued results in order and repeats the last one.
type stubSource struct {
	mu      sync.Mutex
	results []stubResult
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}
}

type stubResult struct {
	price *big.Rat
	err   error
}

func newStub(results ...stubResult) *stubSource {
	return &stubSource{results: results}
}

func price(v int64) stubResult      { return stubResult{price: big.NewRat(v, 1)} }
func failure(msg string) stubResult { return stubResult{err: errors.New(msg)} }

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(ctx context.Context, _ types.Network, _ types.Token) (*big.Rat, error) {
	n := int(s.calls.Add(1))
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[len(s.results)-1]
	if n <= len(s.results) {
		r = s.results[n-1]
	}
	return r.price, r.err
}

type memStore struct {
	mu     sync.Mutex
	prices map[Key]*big.Rat
	times  map[Key]time.Time
}

func newMemStore() *memStore {
	return &memStore{prices: map[Key]*big.Rat{}, times: map[Key]time.Time{}}
}

func (m *memStore) Save(_ context.Context, key Key, price *big.Rat, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[key], m.times[key] = price, fetchedAt
	return nil
}

func (m *memStore) Load(_ context.Context, key Key) (*big.Rat, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[key]
	return p, m.times[key], ok, nil
}

// blockingStore parks every Save until release is closed.
type blockingStore struct {
	memStore
	saving  chan Key
	release chan struct{}
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		memStore: memStore{prices: map[Key]*big.Rat{}, times: map[Key]time.Time{}},
		saving:   make(chan Key, 4),
		release:  make(chan struct{}),
	}
}

func (b *blockingStore) Save(ctx context.Context, key Key, price *big.Rat, fetchedAt time.Time) error {
	b.saving <- key
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.memStore.Save(ctx, key, price, fetchedAt)
}

var (
	usdcKey = Key{ChainID: tokens.Mainnet, Token: tokens.MainnetUSDC}
	daiKey  = Key{ChainID: tokens.Mainnet, Token: tokens.MainnetDAI}
)

func newTestCache(t *testing.T, src *stubSource, opts ...Option) (*Cache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts = append([]Option{WithClock(clock), WithTTL(14 * time.Second), WithPollInterval(15 * time.Second)}, opts...)
	c := New(src, tokens.Default(), opts...)
	t.Cleanup(c.Close)
	return c, clock
}

func await(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := Await(ctx, ch)
	require.NoError(t, err)
	return snap
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "1:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", usdcKey.String())
}

func TestGet_UnknownKeyIsAbsent(t *testing.T) {
	c, _ := newTestCache(t, newStub(price(2500)))

	snap := c.Get(usdcKey)
	assert.False(t, snap.Found())
	assert.False(t, snap.Stale)
	assert.NoError(t, snap.Err)
}

func TestEnsureFresh_RejectsKeysOutsideAllowList(t *testing.T) {
	src := newStub(price(2500))
	c, _ := newTestCache(t, src)

	snap := await(t, c.EnsureFresh(Key{ChainID: 1, Token: common.HexToAddress("0xdead")}))
	require.ErrorIs(t, snap.Err, ErrUnknownKey)
	assert.Zero(t, src.calls.Load())
}

func TestEnsureFresh_SingleFlight(t *testing.T) {
	src := newStub(price(2500))
	src.entered = make(chan struct{}, 1)
	src.gate = make(chan struct{})
	c, _ := newTestCache(t, src)

	const callers = 16
	results := make([]Snapshot, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Await(context.Background(), c.EnsureFresh(usdcKey))
		}(i)
	}

	<-src.entered
	assert.True(t, c.Get(usdcKey).Fetching)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, snap := range results {
		require.NotNil(t, snap.Price)
		assert.Equal(t, "2500", snap.Price.RatString())
	}
}

func TestEnsureFresh_SkipsWhileFresh(t *testing.T) {
	src := newStub(price(2500), price(2600))
	c, clock := newTestCache(t, src)

	await(t, c.EnsureFresh(usdcKey))
	clock.Advance(10 * time.Second)
	snap := await(t, c.EnsureFresh(usdcKey))

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, "2500", snap.Price.RatString())
	assert.False(t, snap.Stale)
}

func TestEnsureFresh_ServeStaleAndBackoff(t *testing.T) {
	src := newStub(price(2500), failure("rpc down"), price(2520))
	c, clock := newTestCache(t, src)

	first := await(t, c.EnsureFresh(usdcKey))
	require.Equal(t, "2500", first.Price.RatString())

	clock.Advance(20 * time.Second)
	failed := await(t, c.EnsureFresh(usdcKey))
	require.Error(t, failed.Err)
	require.NotNil(t, failed.Price)
	assert.Equal(t, "2500", failed.Price.RatString())
	assert.True(t, failed.Stale)
	assert.Equal(t, first.FetchedAt, failed.FetchedAt)

	got := c.Get(usdcKey)
	assert.Equal(t, "2500", got.Price.RatString())
	assert.True(t, got.Stale)
	assert.Error(t, got.Err)

	// no retry faster than the poll interval
	clock.Advance(5 * time.Second)
	await(t, c.EnsureFresh(usdcKey))
	assert.Equal(t, int32(2), src.calls.Load())

	clock.Advance(10 * time.Second)
	recovered := await(t, c.EnsureFresh(usdcKey))
	assert.Equal(t, int32(3), src.calls.Load())
	assert.Equal(t, "2520", recovered.Price.RatString())
	assert.NoError(t, recovered.Err)
	assert.False(t, recovered.Stale)
}

func TestRefresh_IgnoresTTL(t *testing.T) {
	src := newStub(price(2500), price(2505))
	c, _ := newTestCache(t, src)

	await(t, c.EnsureFresh(usdcKey))
	snap := await(t, c.Refresh(usdcKey))

	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, "2505", snap.Price.RatString())
}

func TestFetchedAt_IsMonotonic(t *testing.T) {
	src := newStub(price(2500), failure("boom"), price(2501), price(2502))
	c, clock := newTestCache(t, src)

	var last time.Time
	for i := 0; i < 4; i++ {
		snap := await(t, c.Refresh(usdcKey))
		assert.False(t, snap.FetchedAt.Before(last), "fetch %d went backwards", i)
		last = snap.FetchedAt
		clock.Advance(time.Second)
	}
}

func TestSnapshot_Inverse(t *testing.T) {
	c, _ := newTestCache(t, newStub(price(2500)))

	snap := await(t, c.EnsureFresh(usdcKey))
	assert.Equal(t, "1/2500", snap.Inverse().RatString())
	assert.Nil(t, Snapshot{}.Inverse())
}

func TestSubscribe_LatestWins(t *testing.T) {
	src := newStub(price(2500), price(2501), price(2502))
	c, _ := newTestCache(t, src)

	ch, cancel, err := c.Subscribe(usdcKey)
	require.NoError(t, err)

	await(t, c.Refresh(usdcKey))
	await(t, c.Refresh(usdcKey))
	await(t, c.Refresh(usdcKey))

	snap := <-ch
	assert.Equal(t, "2502", snap.Price.RatString())
	select {
	case extra := <-ch:
		t.Fatalf("unexpected buffered snapshot %v", extra.Price)
	default:
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestSubscribe_NoNotificationOnFailure(t *testing.T) {
	src := newStub(failure("down"))
	c, _ := newTestCache(t, src)

	ch, cancel, err := c.Subscribe(usdcKey)
	require.NoError(t, err)
	defer cancel()

	snap := await(t, c.Refresh(usdcKey))
	require.Error(t, snap.Err)
	assert.Empty(t, ch)
}

func TestStore_PersistAndWarm(t *testing.T) {
	store := newMemStore()
	src := newStub(price(2500))
	c, clock := newTestCache(t, src, WithStore(store))

	first := await(t, c.EnsureFresh(usdcKey))
	require.Contains(t, store.prices, usdcKey)

	// a new process starts from the persisted value without fetching
	other := New(newStub(price(9999)), tokens.Default(), WithClock(clock), WithStore(store))
	defer other.Close()
	require.NoError(t, other.Warm(context.Background(), usdcKey, daiKey))

	warmed := other.Get(usdcKey)
	require.True(t, warmed.Found())
	assert.Equal(t, "2500", warmed.Price.RatString())
	assert.Equal(t, first.FetchedAt.UnixNano(), warmed.FetchedAt.UnixNano())
	assert.False(t, other.Get(daiKey).Found())

	// an older stored value never replaces a newer one in memory
	clock.Advance(time.Second)
	await(t, c.Refresh(usdcKey))
	store.times[usdcKey] = first.FetchedAt.Add(-time.Hour)
	store.prices[usdcKey] = big.NewRat(1, 1)
	require.NoError(t, c.Warm(context.Background(), usdcKey))
	assert.Equal(t, "2500", c.Get(usdcKey).Price.RatString())
}

func TestMaxEntries_EvictsLeastRecentlyUsed(t *testing.T) {
	c, clock := newTestCache(t, newStub(price(2500)), WithMaxEntries(1))

	await(t, c.EnsureFresh(usdcKey))
	clock.Advance(time.Second)
	await(t, c.EnsureFresh(daiKey))

	assert.False(t, c.Get(usdcKey).Found())
	assert.True(t, c.Get(daiKey).Found())
}

func TestMaxEntries_KeepsPolledEntries(t *testing.T) {
	src := newStub(price(2500))
	c, _ := newTestCache(t, src, WithMaxEntries(1))

	ch, cancel, err := c.Subscribe(usdcKey)
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, c.Start(usdcKey, 0))
	<-ch

	await(t, c.EnsureFresh(daiKey))
	assert.True(t, c.Get(usdcKey).Found())
	assert.True(t, c.Get(daiKey).Found())
}

func TestMaxEntries_SlowStoreDoesNotBlockReaders(t *testing.T) {
	store := newBlockingStore()
	c, _ := newTestCache(t, newStub(price(2500)), WithMaxEntries(1), WithStore(store))

	usdc := c.EnsureFresh(usdcKey)
	require.Equal(t, usdcKey, <-store.saving)

	done := make(chan Snapshot, 1)
	go func() {
		c.EnsureFresh(daiKey)
		done <- c.Get(usdcKey)
	}()

	select {
	case snap := <-done:
		assert.True(t, snap.Found())
	case <-time.After(2 * time.Second):
		t.Fatal("Get blocked behind a store write")
	}

	close(store.release)
	assert.Equal(t, "2500", await(t, usdc).Price.RatString())
}

func TestMaxEntries_KeepsInflightEntries(t *testing.T) {
	src := newStub(price(2500))
	src.entered = make(chan struct{}, 1)
	src.gate = make(chan struct{})
	c, _ := newTestCache(t, src, WithMaxEntries(1))

	usdc := c.EnsureFresh(usdcKey)
	<-src.entered

	// creating a second entry must not evict the one being fetched
	_, cancel, err := c.Subscribe(daiKey)
	require.NoError(t, err)
	cancel()

	close(src.gate)
	snap := await(t, usdc)
	require.True(t, snap.Found())

	got := c.Get(usdcKey)
	require.True(t, got.Found())
	assert.Equal(t, snap.Price.RatString(), got.Price.RatString())
	assert.Equal(t, snap.FetchedAt, got.FetchedAt)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestClose_CancelsInflightFetch(t *testing.T) {
	src := newStub(price(2500))
	src.entered = make(chan struct{}, 1)
	src.gate = make(chan struct{})
	c := New(src, tokens.Default())

	ch := c.EnsureFresh(usdcKey)
	<-src.entered
	c.Close()

	snap := await(t, ch)
	require.ErrorIs(t, snap.Err, context.Canceled)
	assert.ErrorIs(t, c.Start(usdcKey, time.Second), ErrClosed)
}
