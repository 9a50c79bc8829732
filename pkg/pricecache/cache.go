// Package pricecache keeps a fresh stable-per-native rate for each
// (network, token) key on top of a ratesource.Source.
//
// Reads never block and never perform I/O. Fetches for a key are
// single-flight: concurrent callers attach to the fetch already in progress.
// A failed fetch keeps the previous value (serve-stale) and records the error.
package pricecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"stableswap/pkg/ratesource"
	"stableswap/pkg/types"
)

var (
	ErrUnknownKey = errors.New("unknown price key")
	ErrClosed     = errors.New("price cache closed")
)

// Key identifies a cached rate
type Key struct {
	ChainID int64
	Token   common.Address
}

func (k Key) String() string {
	return strconv.FormatInt(k.ChainID, 10) + ":" + strings.ToLower(k.Token.Hex())
}

// Resolver maps a key to its allow-listed network and token
type Resolver interface {
	Resolve(chainID int64, token common.Address) (types.Network, types.Token, error)
}

// Snapshot is a consistent view of one cache entry.
type Snapshot struct {
	Key Key
	// Price is quote-token units per one native unit; nil when nothing was ever fetched.
	Price     *big.Rat
	FetchedAt time.Time
	Stale     bool
	// Err is the most recent fetch failure, cleared by the next success.
	Err      error
	Fetching bool
}

// Found reports whether a price is present, fresh or not.
func (s Snapshot) Found() bool { return s.Price != nil }

// Fresh reports whether a price is present and within the TTL.
func (s Snapshot) Fresh() bool { return s.Price != nil && !s.Stale }

// Inverse returns native units per one quote-token unit.
func (s Snapshot) Inverse() *big.Rat {
	if s.Price == nil || s.Price.Sign() == 0 {
		return nil
	}
	return new(big.Rat).Inv(s.Price)
}

type value struct {
	price     *big.Rat
	fetchedAt time.Time
	err       error
	failedAt  time.Time
}

type entry struct {
	key     Key
	network types.Network
	token   types.Token

	val      atomic.Pointer[value]
	fetching atomic.Bool
	lastUsed atomic.Int64
	// pins counts callers between acquire and the end of their fetch; a
	// pinned entry is never evicted.
	pins atomic.Int32

	mu      sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
	poll    *poller
}

func (e *entry) touch(now time.Time) { e.lastUsed.Store(now.UnixNano()) }

func (e *entry) release() { e.pins.Add(-1) }

// Cache is a process-wide keyed price store. Multiple consumers of the same
// key share one entry and at most one outstanding fetch.
type Cache struct {
	source   ratesource.Source
	resolver Resolver

	clock        clockwork.Clock
	logger       *slog.Logger
	store        Store
	visibility   Visibility
	observer     FetchObserver
	ttl          time.Duration
	pollInterval time.Duration
	fetchTimeout time.Duration
	maxEntries   int

	group singleflight.Group

	mu      sync.RWMutex
	entries map[Key]*entry
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache over source. Keys are validated through resolver.
func New(source ratesource.Source, resolver Resolver, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		source:       source,
		resolver:     resolver,
		clock:        clockwork.NewRealClock(),
		logger:       slog.Default(),
		visibility:   AlwaysVisible,
		ttl:          DefaultTTL,
		pollInterval: DefaultPollInterval,
		fetchTimeout: DefaultFetchTimeout,
		entries:      make(map[Key]*entry),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured freshness window
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the last committed value for key. It never blocks on a fetch
// and never performs I/O; an unknown or never-fetched key yields a Snapshot
// without a price.
func (c *Cache) Get(key Key) Snapshot {
	e := c.lookup(key)
	if e == nil {
		return Snapshot{Key: key}
	}
	return c.snapshot(e)
}

// EnsureFresh starts a background fetch when the entry is absent or older
// than the TTL and no recent failure is still backing off. The returned
// channel delivers exactly one Snapshot: the current one when no fetch was
// needed, otherwise the outcome of the (shared) fetch.
func (c *Cache) EnsureFresh(key Key) <-chan Snapshot {
	e, err := c.acquire(key)
	if err != nil {
		return ready(Snapshot{Key: key, Err: err})
	}
	defer e.release()
	if !c.due(e, 0, true) {
		return ready(c.snapshot(e))
	}
	return c.fetch(e, 0, false)
}

// Refresh fetches key regardless of its age. It still joins a fetch already
// in flight for the key.
func (c *Cache) Refresh(key Key) <-chan Snapshot {
	e, err := c.acquire(key)
	if err != nil {
		return ready(Snapshot{Key: key, Err: err})
	}
	defer e.release()
	return c.fetch(e, 0, true)
}

// Subscribe delivers a Snapshot after every successful fetch for key.
// Delivery is latest-wins: a slow reader only ever sees the newest value.
func (c *Cache) Subscribe(key Key) (<-chan Snapshot, func(), error) {
	e, err := c.acquire(key)
	if err != nil {
		return nil, nil, err
	}
	defer e.release()
	ch := make(chan Snapshot, 1)

	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[int]chan Snapshot)
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			close(ch)
			e.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// Warm seeds entries from the Store. Values already newer in memory win.
func (c *Cache) Warm(ctx context.Context, keys ...Key) error {
	if c.store == nil {
		return nil
	}
	var errs []error
	for _, key := range keys {
		e, err := c.acquire(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.warm(ctx, e); err != nil {
			errs = append(errs, err)
		}
		e.release()
	}
	return errors.Join(errs...)
}

func (c *Cache) warm(ctx context.Context, e *entry) error {
	price, fetchedAt, ok, err := c.store.Load(ctx, e.key)
	if err != nil || !ok {
		return err
	}

	e.mu.Lock()
	cur := e.val.Load()
	if cur == nil || cur.price == nil || cur.fetchedAt.Before(fetchedAt) {
		next := &value{price: price, fetchedAt: fetchedAt}
		if cur != nil {
			next.err, next.failedAt = cur.err, cur.failedAt
		}
		e.val.Store(next)
	}
	e.mu.Unlock()
	c.logger.Debug("price warmed from store", "key", e.key.String(), "fetched_at", fetchedAt)
	return nil
}

// Close stops every poller and cancels fetches in flight.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
}

// Await waits for one Snapshot from ch or for ctx to end
func Await(ctx context.Context, ch <-chan Snapshot) (Snapshot, error) {
	select {
	case snap, ok := <-ch:
		if !ok {
			return Snapshot{}, ErrClosed
		}
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func ready(s Snapshot) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	ch <- s
	close(ch)
	return ch
}

func (c *Cache) lookup(key Key) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// acquire returns the entry for key, creating it if needed, pinned against
// eviction. Callers release it once their fetch has been handed off.
func (c *Cache) acquire(key Key) (*entry, error) {
	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		e.pins.Add(1)
		c.mu.RUnlock()
		return e, nil
	}
	c.mu.RUnlock()

	network, token, err := c.resolver.Resolve(key.ChainID, key.Token)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrUnknownKey, key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.pins.Add(1)
		return e, nil
	}
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	e := &entry{key: key, network: network, token: token}
	e.touch(c.clock.Now())
	e.pins.Add(1)
	c.entries[key] = e
	return e, nil
}

// evictLocked drops the least recently used entry that is not pinned, not
// fetching and has no poller or subscribers. It never waits on an entry
// lock: a locked entry counts as in use. If every entry is in use the map is
// allowed to grow.
func (c *Cache) evictLocked() {
	var (
		victim *entry
		oldest int64
	)
	for _, e := range c.entries {
		if e.pins.Load() > 0 || e.fetching.Load() {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		busy := e.poll != nil || len(e.subs) > 0
		e.mu.Unlock()
		if busy {
			continue
		}
		if used := e.lastUsed.Load(); victim == nil || used < oldest {
			victim, oldest = e, used
		}
	}
	if victim == nil {
		return
	}
	delete(c.entries, victim.key)
	c.logger.Debug("price entry evicted", "key", victim.key.String())
}

func (c *Cache) snapshot(e *entry) Snapshot {
	now := c.clock.Now()
	e.touch(now)

	s := Snapshot{Key: e.key, Fetching: e.fetching.Load()}
	v := e.val.Load()
	if v == nil {
		return s
	}
	s.Err = v.err
	if v.price != nil {
		s.Price = new(big.Rat).Set(v.price)
		s.FetchedAt = v.fetchedAt
		s.Stale = now.Sub(v.fetchedAt) > c.ttl
	}
	return s
}

// due reports whether a fetch should start. ahead widens the age check so a
// poller refreshes before the value would go stale ahead of its next tick.
func (c *Cache) due(e *entry, ahead time.Duration, backoff bool) bool {
	v := e.val.Load()
	if v == nil {
		return true
	}
	now := c.clock.Now()
	if backoff && v.err != nil && now.Sub(v.failedAt) < c.pollInterval {
		return false
	}
	if v.price == nil {
		return true
	}
	return now.Sub(v.fetchedAt)+ahead > c.ttl
}

func (c *Cache) fetch(e *entry, ahead time.Duration, force bool) <-chan Snapshot {
	e.pins.Add(1)
	res := c.group.DoChan(e.key.String(), func() (interface{}, error) {
		return c.load(e, ahead, force), nil
	})
	out := make(chan Snapshot, 1)
	go func() {
		r := <-res
		e.release()
		out <- r.Val.(Snapshot)
		close(out)
	}()
	return out
}

func (c *Cache) load(e *entry, ahead time.Duration, force bool) Snapshot {
	// a fetch that finished between the caller's check and this one already
	// satisfied the request
	if !force && !c.due(e, ahead, false) {
		return c.snapshot(e)
	}

	e.fetching.Store(true)
	price, err := c.fetchUpstream(e)
	c.commit(e, price, err)
	e.fetching.Store(false)
	return c.snapshot(e)
}

func (c *Cache) fetchUpstream(e *entry) (*big.Rat, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	defer cancel()

	start := time.Now()
	price, err := c.source.Fetch(ctx, e.network, e.token)
	if err == nil && (price == nil || price.Sign() <= 0) {
		err = fmt.Errorf("%w: non-positive price from %s", ratesource.ErrRPCFailure, c.source.Name())
	}
	if c.observer != nil {
		c.observer.ObserveFetch(c.source.Name(), time.Since(start), err)
	}
	return price, err
}

func (c *Cache) commit(e *entry, price *big.Rat, err error) {
	now := c.clock.Now()
	if !c.apply(e, price, err, now) || c.store == nil {
		return
	}

	// Save runs without e.mu held; it may block on the network.
	ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	defer cancel()
	if err := c.store.Save(ctx, e.key, price, now); err != nil {
		c.logger.Warn("price persist failed", "key", e.key.String(), "err", err)
	}
}

// apply records the fetch outcome and notifies subscribers. It reports
// whether a new price was stored.
func (c *Cache) apply(e *entry, price *big.Rat, err error, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.val.Load()
	next := &value{}
	if cur != nil {
		*next = *cur
	}

	if err != nil {
		next.err, next.failedAt = err, now
		e.val.Store(next)
		c.logger.Warn("price fetch failed, serving last value",
			"key", e.key.String(), "token", e.token.Symbol, "has_value", next.price != nil, "err", err)
		return false
	}

	if cur != nil && cur.price != nil && now.Before(cur.fetchedAt) {
		return false
	}
	next.price, next.fetchedAt = price, now
	next.err, next.failedAt = nil, time.Time{}
	e.val.Store(next)

	c.logger.Debug("price updated", "key", e.key.String(), "token", e.token.Symbol, "price", price.FloatString(6))

	snap := Snapshot{Key: e.key, Price: new(big.Rat).Set(price), FetchedAt: now}
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
	return true
}
