// Package ratelimit caps the analyze surface with per-client token buckets.
// One admitted request fans out to every provider in the round, so the
// limiter sits in front of the engine where a chatty client costs one
// rejection instead of a full consensus round.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultMaxClients bounds the tracked client set so an address scan cannot
// grow the bucket map without limit.
const defaultMaxClients = 100000

const (
	clientIdleCutoff = 10 * time.Minute
	sweepInterval    = 5 * time.Minute
)

// bucket holds one client's token balance.
type bucket struct {
	tokens   int
	lastFill time.Time
	lastSeen time.Time
}

// Limiter is a token-bucket rate limiter keyed by client address. When the
// client set is full, the least recently seen client is evicted.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       int // tokens granted per interval
	burst      int // bucket capacity
	interval   time.Duration
	maxClients int
	counter    prometheus.Counter
	stop       chan struct{}
	stopOnce   sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCounter increments c for every rejected request.
func WithCounter(c prometheus.Counter) Option {
	return func(l *Limiter) { l.counter = c }
}

// WithMaxKeys bounds the number of clients tracked at once. Non-positive
// values keep the default.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxClients = n
		}
	}
}

// New builds a limiter granting rate tokens per interval up to burst, and
// starts a sweeper that forgets clients idle past the cutoff.
func New(rate, burst int, interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		burst:      burst,
		interval:   interval,
		maxClients: defaultMaxClients,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.sweep()
	return l
}

// Middleware rejects over-limit requests with 429 before they reach the
// engine. Clients are keyed by X-Real-IP when a proxy sets it, falling back
// to the connection's remote address.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Real-IP")
		if key == "" {
			key = r.RemoteAddr
		}
		if !l.Allow(key) {
			if l.counter != nil {
				l.counter.Inc()
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow reports whether the client identified by key may proceed, consuming
// one token when it may. Every call refreshes the client's recency, so
// rejected-but-active clients are not eviction candidates.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxClients {
			l.evictStalest()
		}
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	if refills := int(now.Sub(b.lastFill) / l.interval); refills > 0 {
		b.tokens += refills * l.rate
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.lastFill = now
	}
	b.lastSeen = now

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// evictStalest removes the client unseen the longest. Caller holds mu.
func (l *Limiter) evictStalest() {
	var staleKey string
	var stale time.Time
	for k, b := range l.buckets {
		if staleKey == "" || b.lastSeen.Before(stale) {
			staleKey, stale = k, b.lastSeen
		}
	}
	if staleKey != "" {
		delete(l.buckets, staleKey)
	}
}

// sweep periodically forgets clients idle past the cutoff.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-clientIdleCutoff)
			l.mu.Lock()
			for k, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop terminates the background sweeper.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
