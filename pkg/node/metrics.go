package node

import "sync/atomic"

// Metrics holds the node's lifetime counters. Fields are only ever touched
// through atomics so the snapshot path never blocks the data path.
type Metrics struct {
	framesIn     atomic.Uint64
	framesOut    atomic.Uint64
	crcRejects   atomic.Uint64
	magicRejects atomic.Uint64
	dupsDropped  atomic.Uint64
	delivered    atomic.Uint64
	queued       atomic.Uint64
	gossiped     atomic.Uint64
	beaconsSent  atomic.Uint64
	beaconsRecv  atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the counters plus current
// gauge readings from the node's collaborators.
type MetricsSnapshot struct {
	FramesIn     uint64
	FramesOut    uint64
	CRCRejects   uint64
	MagicRejects uint64
	DupsDropped  uint64
	Delivered    uint64
	Queued       uint64
	Gossiped     uint64
	BeaconsSent  uint64
	BeaconsRecv  uint64

	RelayDepth          int
	KnownPeers          int
	PendingReassemblies int
}

// Metrics returns a snapshot of the node's counters and gauges.
func (n *Node) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		FramesIn:     n.metrics.framesIn.Load(),
		FramesOut:    n.metrics.framesOut.Load(),
		CRCRejects:   n.metrics.crcRejects.Load(),
		MagicRejects: n.metrics.magicRejects.Load(),
		DupsDropped:  n.metrics.dupsDropped.Load(),
		Delivered:    n.metrics.delivered.Load(),
		Queued:       n.metrics.queued.Load(),
		Gossiped:     n.metrics.gossiped.Load(),
		BeaconsSent:  n.metrics.beaconsSent.Load(),
		BeaconsRecv:  n.metrics.beaconsRecv.Load(),

		RelayDepth:          n.queue.Len(),
		KnownPeers:          n.peers.Count(),
		PendingReassemblies: n.frags.Pending(),
	}
}
