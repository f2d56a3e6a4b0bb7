// Package peers tracks discovered mesh peers: the channels they advertise,
// whether they are willing to relay, and when they were last heard from.
package peers

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/memkv"
)

// StaleAfter is the silence threshold past which a peer is evicted by the
// periodic sweep. Eviction happens only on the sweep, never inline, so a
// transient quiet spell does not cause churn.
const StaleAfter = 2 * time.Hour

// Peer is one discovered node.
type Peer struct {
	ID            string         `json:"id"`
	Channels      []channel.Kind `json:"channels,omitempty"`
	Relay         bool           `json:"relay"`
	FirstSeen     int64          `json:"first_seen_unix_ms"`
	LastSeen      int64          `json:"last_seen_unix_ms"`
	Transmissions uint64         `json:"transmissions"`
	Source        string         `json:"source,omitempty"` // beacon/relay/manual
}

// Registry persists peer metadata in the in-memory KV, with a lightweight
// id index for listings and sweeps.
type Registry struct {
	kv      *memkv.Store
	localID string
	nowFn   func() time.Time

	idxMu sync.RWMutex
	index map[string]struct{}
}

func NewRegistry(kv *memkv.Store, localID string) *Registry {
	return &Registry{kv: kv, localID: localID, nowFn: time.Now, index: make(map[string]struct{})}
}

func keyPeer(id string) string { return "peer:" + id }

// Register upserts a peer by node id. The local node itself is never
// registered. First-seen is preserved on update; last-seen, channel set,
// relay flag and source are refreshed. Returns false when the record was
// rejected (self or empty id).
func (r *Registry) Register(p Peer) bool {
	if p.ID == "" || p.ID == r.localID {
		return false
	}
	now := r.nowFn().UnixMilli()
	r.kv.Update(keyPeer(p.ID), func(old []byte) []byte {
		var cur Peer
		if old != nil {
			_ = json.Unmarshal(old, &cur)
		}
		if cur.FirstSeen == 0 {
			cur.FirstSeen = now
		}
		cur.ID = p.ID
		cur.LastSeen = now
		cur.Relay = p.Relay
		cur.Transmissions++
		if len(p.Channels) > 0 {
			cur.Channels = append([]channel.Kind(nil), p.Channels...)
		}
		if p.Source != "" {
			cur.Source = p.Source
		}
		b, _ := json.Marshal(cur)
		return b
	})
	r.idxMu.Lock()
	_, known := r.index[p.ID]
	r.index[p.ID] = struct{}{}
	r.idxMu.Unlock()
	if !known {
		zap.L().Info("peer discovered", zap.String("peer", p.ID), zap.String("source", p.Source))
	} else {
		zap.L().Debug("peer refreshed", zap.String("peer", p.ID))
	}
	return true
}

// Touch refreshes last-seen and bumps the transmission counter for a peer
// already known; unknown peers are ignored (discovery goes through Register).
func (r *Registry) Touch(id string) {
	if !r.Known(id) {
		return
	}
	now := r.nowFn().UnixMilli()
	r.kv.Update(keyPeer(id), func(old []byte) []byte {
		var cur Peer
		if old != nil {
			_ = json.Unmarshal(old, &cur)
		}
		cur.ID = id
		cur.LastSeen = now
		cur.Transmissions++
		b, _ := json.Marshal(cur)
		return b
	})
}

// Get returns a peer record.
func (r *Registry) Get(id string) (Peer, bool) {
	b, ok := r.kv.Get(keyPeer(id))
	if !ok {
		return Peer{}, false
	}
	var p Peer
	if err := json.Unmarshal(b, &p); err != nil {
		return Peer{}, false
	}
	return p, true
}

// Known reports whether a peer id is currently registered.
func (r *Registry) Known(id string) bool {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	_, ok := r.index[id]
	return ok
}

// Remove deletes a peer record.
func (r *Registry) Remove(id string) {
	r.kv.Delete(keyPeer(id))
	r.idxMu.Lock()
	delete(r.index, id)
	r.idxMu.Unlock()
	zap.L().Info("peer removed", zap.String("peer", id))
}

// List returns a snapshot of all registered peers.
func (r *Registry) List() []Peer {
	r.idxMu.RLock()
	ids := make([]string, 0, len(r.index))
	for id := range r.index {
		ids = append(ids, id)
	}
	r.idxMu.RUnlock()
	out := make([]Peer, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.Get(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// Count reports how many peers are registered.
func (r *Registry) Count() int {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	return len(r.index)
}

// SweepStale evicts peers silent for longer than StaleAfter and returns how
// many were removed. Called from the heartbeat.
func (r *Registry) SweepStale() int {
	cutoff := r.nowFn().Add(-StaleAfter).UnixMilli()
	n := 0
	for _, p := range r.List() {
		if p.LastSeen < cutoff {
			r.Remove(p.ID)
			n++
		}
	}
	if n > 0 {
		zap.L().Info("stale peers evicted", zap.Int("count", n))
	}
	return n
}
