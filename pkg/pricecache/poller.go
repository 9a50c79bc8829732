package pricecache

import (
	"context"
	"time"
)

type poller struct {
	refs     int
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Start begins refreshing key every interval. Calls are reference counted:
// each consumer calls Start once and Stop once, and the loop runs while at
// least one consumer remains. A non-positive interval selects the default.
func (c *Cache) Start(key Key, interval time.Duration) error {
	if interval <= 0 {
		interval = c.pollInterval
	}
	e, err := c.acquire(key)
	if err != nil {
		return err
	}
	defer e.release()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.poll != nil {
		e.poll.refs++
		return nil
	}

	ctx, cancel := context.WithCancel(c.ctx)
	p := &poller{refs: 1, interval: interval, cancel: cancel, done: make(chan struct{})}
	e.poll = p

	c.wg.Add(1)
	go c.run(ctx, e, p)

	c.logger.Debug("price poller started", "key", key.String(), "interval", interval)
	return nil
}

// Stop releases one Start. The last release stops the loop and waits for it.
func (c *Cache) Stop(key Key) {
	e := c.lookup(key)
	if e == nil {
		return
	}

	e.mu.Lock()
	p := e.poll
	if p == nil {
		e.mu.Unlock()
		return
	}
	p.refs--
	if p.refs > 0 {
		e.mu.Unlock()
		return
	}
	e.poll = nil
	e.mu.Unlock()

	p.cancel()
	<-p.done
	c.logger.Debug("price poller stopped", "key", key.String())
}

// Polling reports whether a poller is running for key
func (c *Cache) Polling(key Key) bool {
	e := c.lookup(key)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poll != nil
}

func (c *Cache) run(ctx context.Context, e *entry, p *poller) {
	defer c.wg.Done()
	defer close(p.done)

	ticker := c.clock.NewTicker(p.interval)
	defer ticker.Stop()

	c.tick(ctx, e, 0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.tick(ctx, e, p.interval)
		}
	}
}

func (c *Cache) tick(ctx context.Context, e *entry, ahead time.Duration) {
	if !c.visibility.Visible() {
		c.logger.Debug("price poll suspended", "key", e.key.String())
		return
	}
	if !c.due(e, ahead, false) {
		return
	}
	select {
	case <-c.fetch(e, ahead, false):
	case <-ctx.Done():
	}
}
