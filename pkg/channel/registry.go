package channel

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry pairs the fixed capability table with live per-channel state:
// an availability flag supplied by an external detector and an optional
// measured round-trip latency. The registry never probes hardware itself.
type Registry struct {
	mu        sync.RWMutex
	available map[Kind]bool
	rtt       map[Kind]time.Duration
}

// Status is a read-only snapshot row handed to the routing engine.
type Status struct {
	Spec
	Available bool
	RTT       time.Duration // 0 when unmeasured
}

func NewRegistry() *Registry {
	return &Registry{
		available: make(map[Kind]bool, len(Specs)),
		rtt:       make(map[Kind]time.Duration, len(Specs)),
	}
}

// SetAvailable records a detector result for one channel.
func (r *Registry) SetAvailable(k Kind, up bool) {
	r.mu.Lock()
	prev := r.available[k]
	r.available[k] = up
	r.mu.Unlock()
	if prev != up {
		zap.L().Info("channel availability changed", zap.Stringer("channel", k), zap.Bool("available", up))
	}
}

// Apply replaces availability flags wholesale from a detector sweep.
// Channels missing from the map are left untouched.
func (r *Registry) Apply(flags map[Kind]bool) {
	for k, up := range flags {
		r.SetAvailable(k, up)
	}
}

// RecordRTT stores a measured round trip for a channel.
func (r *Registry) RecordRTT(k Kind, rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	r.mu.Lock()
	r.rtt[k] = rtt
	r.mu.Unlock()
	zap.L().Debug("channel rtt recorded", zap.Stringer("channel", k), zap.Duration("rtt", rtt))
}

// Available returns snapshot rows for currently-available channels, in
// registry order.
func (r *Registry) Available() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(Specs))
	for _, s := range Specs {
		if r.available[s.Kind] {
			out = append(out, Status{Spec: s, Available: true, RTT: r.rtt[s.Kind]})
		}
	}
	return out
}

// IsAvailable reports the live flag for one channel.
func (r *Registry) IsAvailable(k Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available[k]
}

// Snapshot returns rows for all seven channels regardless of availability.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(Specs))
	for _, s := range Specs {
		out = append(out, Status{Spec: s, Available: r.available[s.Kind], RTT: r.rtt[s.Kind]})
	}
	return out
}
