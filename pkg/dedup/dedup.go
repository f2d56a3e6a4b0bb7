// Package dedup drops frames whose content hash was already processed and
// decides whether accepted frames should be rebroadcast (gossip).
package dedup

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxEntries triggers an age sweep once exceeded. The sweep is
	// size-triggered, not timer-driven, so the hot path stays O(1).
	DefaultMaxEntries = 10_000
	// DefaultRetention is how long a hash stays fresh once recorded.
	DefaultRetention = time.Hour

	// gossipFloor is the minimum rebroadcast probability for routine
	// traffic; gossipScale maps novelty onto the remaining range.
	gossipFloor = 0.1
	gossipScale = 0.8

	// alwaysGossipMaxPriority: classes 0 and 1 are never suppressed.
	alwaysGossipMaxPriority = 1
)

// Cache is a bounded recent-hash table. One instance per mesh node; nothing
// here is shared process-wide.
type Cache struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	maxEntries int
	retention  time.Duration
	nowFn      func() time.Time
	rng        *rand.Rand
}

// Option tweaks a Cache. Used mainly by tests to inject a clock and a
// deterministic random source.
type Option func(*Cache)

func WithMaxEntries(n int) Option          { return func(c *Cache) { c.maxEntries = n } }
func WithRetention(d time.Duration) Option { return func(c *Cache) { c.retention = d } }
func WithClock(fn func() time.Time) Option { return func(c *Cache) { c.nowFn = fn } }
func WithRand(r *rand.Rand) Option         { return func(c *Cache) { c.rng = r } }

func New(opts ...Option) *Cache {
	c := &Cache{
		seen:       make(map[string]time.Time, 1024),
		maxEntries: DefaultMaxEntries,
		retention:  DefaultRetention,
		nowFn:      time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CheckAndMark returns true if hash was already seen (the frame must be
// silently dropped); otherwise it records the hash and returns false.
func (c *Cache) CheckAndMark(hash string) bool {
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()
	if at, ok := c.seen[hash]; ok && now.Sub(at) < c.retention {
		return true
	}
	c.seen[hash] = now
	if len(c.seen) > c.maxEntries {
		c.sweepLocked(now)
	}
	return false
}

// sweepLocked drops entries past the retention window.
func (c *Cache) sweepLocked(now time.Time) {
	before := len(c.seen)
	for h, at := range c.seen {
		if now.Sub(at) >= c.retention {
			delete(c.seen, h)
		}
	}
	zap.L().Debug("dedup sweep", zap.Int("before", before), zap.Int("after", len(c.seen)))
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Reset clears the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.seen = make(map[string]time.Time, 1024)
	c.mu.Unlock()
}

// ShouldGossip decides whether a frame is rebroadcast. Emergency frames and
// the two most urgent priority classes always propagate. Everything else is
// a Bernoulli draw: probability = novelty*0.8 + 0.1, novelty in [0,1].
func (c *Cache) ShouldGossip(priority uint8, emergency bool, novelty float64) bool {
	if emergency || priority <= alwaysGossipMaxPriority {
		zap.L().Debug("gossip forced",
			zap.Uint8("priority", priority), zap.Bool("emergency", emergency))
		return true
	}
	if novelty < 0 {
		novelty = 0
	} else if novelty > 1 {
		novelty = 1
	}
	p := novelty*gossipScale + gossipFloor
	c.mu.Lock()
	draw := c.rng.Float64()
	c.mu.Unlock()
	ok := draw < p
	zap.L().Debug("gossip decision",
		zap.Float64("novelty", novelty), zap.Float64("p", p), zap.Bool("rebroadcast", ok))
	return ok
}
