package fragment

import (
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxAge is how long an incomplete fragment set is kept before the
// prune pass abandons it.
const DefaultMaxAge = 10 * time.Minute

// Reassembler tracks in-flight fragment sets keyed by transfer id. One
// instance per mesh node.
type Reassembler struct {
	mu     sync.Mutex
	sets   map[string]*pending
	maxAge time.Duration
	nowFn  func() time.Time
}

type pending struct {
	frags   map[uint16]Fragment
	total   uint16
	started time.Time
}

// NewReassembler builds a tracker; a zero maxAge selects DefaultMaxAge.
func NewReassembler(maxAge time.Duration) *Reassembler {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Reassembler{sets: make(map[string]*pending), maxAge: maxAge, nowFn: time.Now}
}

// Add records one received fragment. It returns a non-nil Result exactly once
// per transfer, when the set completes and verifies. A hash mismatch poisons
// and discards the whole set.
func (r *Reassembler) Add(f Fragment) (*Result, error) {
	if !f.Verify() {
		zap.L().Warn("fragment hash mismatch",
			zap.String("transfer", hex.EncodeToString(f.TransferID)), zap.Uint16("seq", f.Seq))
		r.drop(f.TransferID)
		return nil, ErrHashMismatch
	}
	key := string(f.TransferID)
	r.mu.Lock()
	p := r.sets[key]
	if p == nil {
		p = &pending{frags: make(map[uint16]Fragment, f.Total), total: f.Total, started: r.nowFn()}
		r.sets[key] = p
	}
	p.frags[f.Seq] = f
	if len(p.frags) < int(p.total) {
		r.mu.Unlock()
		return nil, nil
	}
	all := make([]Fragment, 0, len(p.frags))
	for _, fr := range p.frags {
		all = append(all, fr)
	}
	delete(r.sets, key)
	r.mu.Unlock()

	res, err := Reassemble(all)
	if err != nil {
		zap.L().Warn("reassembly failed",
			zap.String("transfer", hex.EncodeToString(f.TransferID)), zap.Error(err))
		return nil, err
	}
	zap.L().Debug("transfer reassembled",
		zap.String("transfer", hex.EncodeToString(f.TransferID)), zap.Int("bytes", len(res.Payload)))
	return res, nil
}

func (r *Reassembler) drop(transferID []byte) {
	r.mu.Lock()
	delete(r.sets, string(transferID))
	r.mu.Unlock()
}

// Pending reports how many incomplete sets are being tracked.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}

// PruneStale abandons sets older than the max age and returns how many were
// dropped. Called from the heartbeat sweep.
func (r *Reassembler) PruneStale() int {
	now := r.nowFn()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, p := range r.sets {
		if now.Sub(p.started) > r.maxAge {
			delete(r.sets, k)
			n++
		}
	}
	if n > 0 {
		zap.L().Info("stale fragment sets pruned", zap.Int("count", n))
	}
	return n
}
