package expiring

import (
	"sync"
	"time"
)

// Cache is a small seen-once set with per-entry TTL. It backs the
// notification dedup window, the recently-ended-call guard and the NATS
// publish idempotency check. Expired entries are dropped lazily on
// access and by a background sweeper, so abandoned keys never pile up.
type Cache struct {
	mu         sync.Mutex
	m          map[string]int64 // key -> expire unix-nano
	defaultTTL time.Duration

	clock    func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

type Option func(*Cache)

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) { c.clock = clock }
}

func NewCache(defaultTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{
		m:          make(map[string]int64),
		defaultTTL: defaultTTL,
		clock:      time.Now,
		stopCh:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.sweeper()
	return c
}

// SeenOnce records key and reports whether it was already present and
// unexpired. ttl<=0 uses the default. First caller gets false, every
// caller inside the window gets true.
func (c *Cache) SeenOnce(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.clock().UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.m[key]; ok && exp > now {
		return true
	}
	c.m[key] = now + ttl.Nanoseconds()
	return false
}

// Contains reports whether key is present and unexpired, without
// recording anything.
func (c *Cache) Contains(key string) bool {
	now := c.clock().UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.m[key]
	if ok && exp <= now {
		delete(c.m, key)
		return false
	}
	return ok
}

// Remove drops a key before its TTL elapses.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

// Len reports live entries; expired-but-unswept entries are excluded.
func (c *Cache) Len() int {
	now := c.clock().UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, exp := range c.m {
		if exp > now {
			n++
		}
	}
	return n
}

func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) sweeper() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			now := c.clock().UnixNano()
			c.mu.Lock()
			for k, exp := range c.m {
				if exp <= now {
					delete(c.m, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
