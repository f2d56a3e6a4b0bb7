package node

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dtumesh/pkg/relay"
)

// Heartbeat cadence. Every tick sweeps the relay queue; slower maintenance
// runs on multiples of the base tick.
const (
	beaconEvery = 10
	pruneEvery  = 50
)

// Tick runs one heartbeat step. A tick that arrives while the previous one
// is still running is dropped, so slow providers can never stack sweeps.
func (n *Node) Tick(seq uint64) {
	select {
	case <-n.ticking:
	default:
		zap.L().Warn("heartbeat tick skipped, previous still running", zap.Uint64("seq", seq))
		return
	}
	defer func() { n.ticking <- struct{}{} }()

	n.RefreshChannels()
	n.sweepRelay()

	if seq%beaconEvery == 0 {
		n.SendBeacon(context.Background())
	}
	if seq%pruneEvery == 0 {
		evicted := n.peers.SweepStale()
		pruned := n.transfers.PruneTerminal()
		stale := n.frags.PruneStale()
		n.kv.SweepExpired()
		if evicted+pruned+stale > 0 {
			zap.L().Debug("maintenance sweep",
				zap.Uint64("seq", seq), zap.Int("peers_evicted", evicted),
				zap.Int("transfers_pruned", pruned), zap.Int("reassemblies_dropped", stale))
		}
	}
}

// sweepRelay retries queued packets whose destination became reachable.
// A queued packet is already a complete wire frame; it goes out on the first
// available channel that accepts it. With no provider-backed channel up,
// entries keep their attempt budget and simply wait.
func (n *Node) sweepRelay() {
	n.queue.Sweep(
		n.peers.Known,
		func(e relay.Entry) (bool, bool) {
			attempted := false
			for _, st := range n.reg.Available() {
				if _, ok := n.providers[st.Kind]; !ok {
					continue
				}
				attempted = true
				if n.transmit(context.Background(), st.Kind, e.Destination, e.Packet) == nil {
					return true, true
				}
			}
			return attempted, false
		},
	)
}

// Run drives the heartbeat on a fixed interval until ctx is cancelled.
func (n *Node) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	zap.L().Info("heartbeat started", zap.Duration("interval", interval))
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("heartbeat stopped")
			return
		case <-t.C:
			seq++
			n.Tick(seq)
		}
	}
}
