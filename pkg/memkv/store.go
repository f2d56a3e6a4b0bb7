package memkv

import (
	"sync"
	"sync/atomic"
	"time"
)

// Options tunes a Store. Values are always copied on Set and Get so callers
// can never alias internal buffers.
type Options struct {
	Shards int // shard count (default 64)
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 64
	}
	return o
}

// Store is a sharded map with lazy TTL expiry.
type Store struct {
	opts   Options
	shards []shard
	nowFn  func() time.Time

	mKeys    atomic.Uint64
	mHits    atomic.Uint64
	mMisses  atomic.Uint64
	mExpired atomic.Uint64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

type entry struct {
	val      []byte
	expireAt int64 // unix nano; 0 = never
}

func New(opts Options) *Store {
	opts = opts.withDefaults()
	s := &Store{opts: opts, shards: make([]shard, opts.Shards), nowFn: time.Now}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*entry, 64)
	}
	return s
}

// fnv-1a 64
func (s *Store) shardFor(key string) *shard {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &s.shards[int(h%uint64(len(s.shards)))]
}

func dup(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Set stores a value; ttl <= 0 means no expiry. Returns true when the key
// was created rather than overwritten.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
	var expAt int64
	if ttl > 0 {
		expAt = s.nowFn().Add(ttl).UnixNano()
	}
	val = dup(val)
	sh := s.shardFor(key)
	sh.mu.Lock()
	_, existed := sh.m[key]
	sh.m[key] = &entry{val: val, expireAt: expAt}
	sh.mu.Unlock()
	if !existed {
		s.mKeys.Add(1)
	}
	return !existed
}

// Get returns the value and whether it exists (and is unexpired).
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	sh.mu.RUnlock()
	if !ok {
		s.mMisses.Add(1)
		return nil, false
	}
	if e.expireAt != 0 && e.expireAt <= s.nowFn().UnixNano() {
		s.deleteExpired(key)
		s.mMisses.Add(1)
		return nil, false
	}
	s.mHits.Add(1)
	return dup(e.val), true
}

// Update applies fn to the current value (nil when absent) and stores the
// result. Unlike Get/Set pairs this is atomic per key.
func (s *Store) Update(key string, fn func(old []byte) []byte) {
	sh := s.shardFor(key)
	now := s.nowFn().UnixNano()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	var old []byte
	if ok && (e.expireAt == 0 || e.expireAt > now) {
		old = e.val
	} else if ok {
		delete(sh.m, key)
		s.mExpired.Add(1)
		s.mKeys.Add(^uint64(0))
		ok = false
	}
	newVal := dup(fn(old))
	if ok {
		e.val = newVal
	} else {
		sh.m[key] = &entry{val: newVal}
		s.mKeys.Add(1)
	}
}

// Delete removes a key; returns whether it existed.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	_, ok := sh.m[key]
	if ok {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
	if ok {
		s.mKeys.Add(^uint64(0))
	}
	return ok
}

// Expire sets or replaces a key's TTL; returns false when the key is absent.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		return s.Delete(key)
	}
	exp := s.nowFn().Add(ttl).UnixNano()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		return false
	}
	e.expireAt = exp
	return true
}

// SweepExpired removes every expired entry; returns how many were dropped.
func (s *Store) SweepExpired() int {
	now := s.nowFn().UnixNano()
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.m {
			if e.expireAt != 0 && e.expireAt <= now {
				delete(sh.m, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	if n > 0 {
		s.mExpired.Add(uint64(n))
		for i := 0; i < n; i++ {
			s.mKeys.Add(^uint64(0))
		}
	}
	return n
}

func (s *Store) deleteExpired(key string) {
	sh := s.shardFor(key)
	now := s.nowFn().UnixNano()
	sh.mu.Lock()
	if e, ok := sh.m[key]; ok && e.expireAt != 0 && e.expireAt <= now {
		delete(sh.m, key)
		s.mExpired.Add(1)
		s.mKeys.Add(^uint64(0))
	}
	sh.mu.Unlock()
}

// Stats is a metrics snapshot.
type Stats struct {
	Keys    uint64
	Hits    uint64
	Misses  uint64
	Expired uint64
}

// Metrics returns an instantaneous metrics snapshot.
func (s *Store) Metrics() Stats {
	return Stats{
		Keys:    s.mKeys.Load(),
		Hits:    s.mHits.Load(),
		Misses:  s.mMisses.Load(),
		Expired: s.mExpired.Load(),
	}
}
