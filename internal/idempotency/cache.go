// Package idempotency replays recorded responses for retried requests. An
// analyze call that times out client-side is usually retried verbatim;
// replaying the recorded consensus keeps the retry from burning another
// full provider round.
package idempotency

import (
	"sync"
	"time"
)

// Entry is one recorded response, keyed by the client's Idempotency-Key.
type Entry struct {
	Body     []byte
	Status   int
	Header   map[string]string
	recorded time.Time
}

// Cache is a TTL-bounded, size-bounded store of recorded responses. At
// capacity the oldest recording is dropped.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
	stop       chan struct{}
	stopOnce   sync.Once
}

// New builds a cache holding at most maxEntries recordings for ttl each,
// and starts a background pruner.
func New(ttl time.Duration, maxEntries int) *Cache {
	c := &Cache{
		entries:    make(map[string]Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go c.pruneLoop()
	return c
}

// Get returns the recording for key. Expired recordings are dropped lazily
// on access.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if time.Since(e.recorded) > c.ttl {
		delete(c.entries, key)
		return Entry{}, false
	}
	return e, true
}

// Set records a response under key. When the cache is full and key is new,
// the oldest recording makes room.
func (c *Cache) Set(key string, body []byte, status int, header map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = Entry{
		Body:     body,
		Status:   status,
		Header:   header,
		recorded: time.Now(),
	}
}

// evictOldest drops the recording made the longest ago. Caller holds mu.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.recorded.Before(oldest) {
			oldestKey, oldest = k, e.recorded
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// pruneLoop removes expired recordings at half-TTL cadence.
func (c *Cache) pruneLoop() {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.prune()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if time.Since(e.recorded) > c.ttl {
			delete(c.entries, k)
		}
	}
}

// Stop terminates the background pruner.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
