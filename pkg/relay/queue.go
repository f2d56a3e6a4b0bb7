// Package relay implements the bounded store-and-forward queue for packets
// that currently have no reachable destination.
package relay

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// Broadcast addresses every reachable peer rather than a single node.
	Broadcast = "broadcast"

	DefaultCapacity    = 500
	DefaultHoldTime    = 24 * time.Hour
	DefaultMaxAttempts = 10
)

// Status of a queue entry. An entry is queued, delivered, or expired —
// never silently lost without being counted.
type Status int

const (
	StatusQueued Status = iota
	StatusDelivered
)

// Entry is one packet awaiting a reachable destination.
type Entry struct {
	Packet      []byte
	Destination string // node id or Broadcast
	Priority    uint8  // lower = more urgent
	QueuedAt    time.Time
	Attempts    int
	MaxAttempts int
	ExpiresAt   time.Time
	Status      Status
}

// Stats counts every way an entry can leave the queue.
type Stats struct {
	Enqueued  uint64
	Delivered uint64
	Expired   uint64
	Evicted   uint64
	Exhausted uint64 // dropped after max attempts
}

// Queue is a bounded, priority-ordered relay queue. Entries are kept sorted
// by priority class (most urgent first), then arrival.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
	cap     int
	hold    time.Duration
	nowFn   func() time.Time
	stats   Stats
}

// Option tweaks a Queue.
type Option func(*Queue)

func WithCapacity(n int) Option            { return func(q *Queue) { q.cap = n } }
func WithHoldTime(d time.Duration) Option  { return func(q *Queue) { q.hold = d } }
func WithClock(fn func() time.Time) Option { return func(q *Queue) { q.nowFn = fn } }

func New(opts ...Option) *Queue {
	q := &Queue{cap: DefaultCapacity, hold: DefaultHoldTime, nowFn: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue stores a packet for later delivery. When the queue is at capacity
// the single lowest-priority entry is evicted first, so the queue never
// exceeds its cap.
func (q *Queue) Enqueue(packet []byte, destination string, priority uint8) {
	now := q.nowFn()
	e := &Entry{
		Packet:      append([]byte(nil), packet...),
		Destination: destination,
		Priority:    priority,
		QueuedAt:    now,
		MaxAttempts: DefaultMaxAttempts,
		ExpiresAt:   now.Add(q.hold),
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.cap {
		// Sorted order puts the lowest-priority entry at the tail.
		victim := q.entries[len(q.entries)-1]
		q.entries = q.entries[:len(q.entries)-1]
		q.stats.Evicted++
		zap.L().Debug("relay queue full, evicted lowest priority",
			zap.String("dest", victim.Destination), zap.Uint8("priority", victim.Priority))
	}
	q.entries = append(q.entries, e)
	sort.SliceStable(q.entries, func(i, j int) bool {
		if q.entries[i].Priority != q.entries[j].Priority {
			return q.entries[i].Priority < q.entries[j].Priority
		}
		return q.entries[i].QueuedAt.Before(q.entries[j].QueuedAt)
	})
	q.stats.Enqueued++
	zap.L().Debug("packet queued for relay",
		zap.String("dest", destination), zap.Uint8("priority", priority), zap.Int("depth", len(q.entries)))
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns copies of the queued entries, most urgent first.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// Metrics returns the lifetime counters.
func (q *Queue) Metrics() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// DeliverFunc hands a packet to the channel providers. attempted reports
// whether any medium actually took a try; an entry that could not be tried
// at all (every channel down) keeps its attempt budget intact.
type DeliverFunc func(e Entry) (attempted, delivered bool)

// Sweep drops expired entries, then attempts delivery for every entry whose
// destination is now reachable (a known peer, or broadcast). An attempt is
// recorded only when deliver reports one; after the attempt budget runs out
// the entry is dropped as exhausted. Returns (expired, delivered) counts.
func (q *Queue) Sweep(reachable func(dest string) bool, deliver DeliverFunc) (int, int) {
	now := q.nowFn()
	q.mu.Lock()
	defer q.mu.Unlock()

	expired := 0
	keep := q.entries[:0]
	for _, e := range q.entries {
		if now.After(e.ExpiresAt) {
			expired++
			continue
		}
		keep = append(keep, e)
	}
	q.entries = keep
	q.stats.Expired += uint64(expired)

	delivered := 0
	keep = q.entries[:0]
	for _, e := range q.entries {
		if deliver == nil || (e.Destination != Broadcast && (reachable == nil || !reachable(e.Destination))) {
			keep = append(keep, e)
			continue
		}
		attempted, ok := deliver(*e)
		if ok {
			e.Status = StatusDelivered
			delivered++
			continue
		}
		if !attempted {
			keep = append(keep, e)
			continue
		}
		e.Attempts++
		if e.Attempts >= e.MaxAttempts {
			q.stats.Exhausted++
			zap.L().Warn("relay entry dropped after max attempts",
				zap.String("dest", e.Destination), zap.Int("attempts", e.Attempts))
			continue
		}
		keep = append(keep, e)
	}
	q.entries = keep
	q.stats.Delivered += uint64(delivered)

	if expired > 0 || delivered > 0 {
		zap.L().Info("relay sweep",
			zap.Int("expired", expired), zap.Int("delivered", delivered), zap.Int("depth", len(q.entries)))
	}
	return expired, delivered
}
