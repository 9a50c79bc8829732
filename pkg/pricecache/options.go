package pricecache

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultTTL          = 14 * time.Second
	DefaultPollInterval = 15 * time.Second
	DefaultFetchTimeout = 10 * time.Second
)

// FetchObserver receives the outcome of every upstream fetch
type FetchObserver interface {
	ObserveFetch(source string, duration time.Duration, err error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window of cached values
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPollInterval sets the default refresh cadence and the failure backoff
func WithPollInterval(interval time.Duration) Option {
	return func(c *Cache) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithFetchTimeout bounds a single upstream fetch.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		if timeout > 0 {
			c.fetchTimeout = timeout
		}
	}
}

// WithMaxEntries bounds the number of keys held. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.maxEntries = n
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStore persists successful fetches and enables Warm.
func WithStore(store Store) Option {
	return func(c *Cache) {
		c.store = store
	}
}

// WithVisibility gates pollers on an activity signal
func WithVisibility(v Visibility) Option {
	return func(c *Cache) {
		if v != nil {
			c.visibility = v
		}
	}
}

func WithObserver(o FetchObserver) Option {
	return func(c *Cache) {
		c.observer = o
	}
}
