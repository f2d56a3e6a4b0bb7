// Package node assembles the mesh transport layer: frame send/receive paths,
// dedup + gossip, fragmentation, store-and-forward relay, peer tracking and
// the heartbeat that drives periodic maintenance.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/dedup"
	"dtumesh/pkg/fragment"
	"dtumesh/pkg/identity"
	"dtumesh/pkg/memkv"
	"dtumesh/pkg/peers"
	"dtumesh/pkg/protocol"
	"dtumesh/pkg/relay"
	"dtumesh/pkg/routing"
	"dtumesh/pkg/transfer"
)

// Detector reports which mediums are currently usable. Availability is owned
// by the platform layer; the node never probes hardware itself.
type Detector interface {
	DetectAvailability() map[channel.Kind]bool
}

// Transmitter is one channel provider. Transmit must honor ctx cancellation;
// destination is a node id or relay.Broadcast.
type Transmitter interface {
	Kind() channel.Kind
	Transmit(ctx context.Context, destination string, frame []byte) error
}

// ContentStore receives reconstructed payloads. Structured is the parsed JSON
// value when the payload is JSON, nil otherwise.
type ContentStore interface {
	OnReceive(payload []byte, structured any, source channel.Kind)
}

// ErrNoProvider is returned when a route selects a channel the node has no
// provider for; the packet falls back to the relay queue.
var ErrNoProvider = errors.New("no provider for channel")

// frameCapacity clamps a channel's transmission unit to what one frame can
// actually carry: PayloadLen is a u16, so wide channels still fragment at
// the frame limit.
func frameCapacity(spec channel.Spec) int {
	if spec.MaxPayload > protocol.MaxPayload {
		return protocol.MaxPayload
	}
	return spec.MaxPayload
}

// Options configures a Node. Zero values pick the defaults used in production.
type Options struct {
	ID            string // empty = random per process
	RelayWilling  bool
	RelayCapacity int
	RelayHold     time.Duration
	SendTimeout   time.Duration
	GossipSeed    int64 // non-zero makes gossip reproducible
	Detector      Detector
	Content       ContentStore
}

// Node owns the per-node mesh state. All mutable collaborators (dedup cache,
// peer registry, relay queue) are owned here and safe for concurrent use.
type Node struct {
	id     string
	source [4]byte

	reg       *channel.Registry
	engine    *routing.Engine
	dups      *dedup.Cache
	frags     *fragment.Reassembler
	kv        *memkv.Store
	peers     *peers.Registry
	queue     *relay.Queue
	transfers *transfer.Manager

	providers map[channel.Kind]Transmitter

	detector     Detector
	content      ContentStore
	relayWilling bool
	sendTimeout  time.Duration
	nowFn        func() time.Time

	metrics Metrics

	ticking chan struct{} // 1-slot token; empty while a tick runs
}

func New(opts Options) *Node {
	id := identity.LoadOrGen(opts.ID)
	if opts.RelayCapacity <= 0 {
		opts.RelayCapacity = relay.DefaultCapacity
	}
	if opts.RelayHold <= 0 {
		opts.RelayHold = relay.DefaultHoldTime
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}

	var dedupOpts []dedup.Option
	if opts.GossipSeed != 0 {
		dedupOpts = append(dedupOpts, dedup.WithRand(rand.New(rand.NewSource(opts.GossipSeed))))
	}

	n := &Node{
		id:           id,
		source:       protocol.SourceID(id),
		reg:          channel.NewRegistry(),
		dups:         dedup.New(dedupOpts...),
		frags:        fragment.NewReassembler(0),
		kv:           memkv.New(memkv.Options{}),
		queue:        relay.New(relay.WithCapacity(opts.RelayCapacity), relay.WithHoldTime(opts.RelayHold)),
		providers:    make(map[channel.Kind]Transmitter),
		detector:     opts.Detector,
		content:      opts.Content,
		relayWilling: opts.RelayWilling,
		sendTimeout:  opts.SendTimeout,
		nowFn:        time.Now,
		ticking:      make(chan struct{}, 1),
	}
	n.ticking <- struct{}{}
	n.engine = routing.New(n.reg)
	n.peers = peers.NewRegistry(n.kv, id)
	n.transfers = transfer.NewManager(n.engine, n.sendComponent)

	zap.L().Info("mesh node assembled",
		zap.String("node_id", id), zap.Bool("relay", opts.RelayWilling))
	return n
}

// ID returns the local node id.
func (n *Node) ID() string { return n.id }

// Channels exposes the live channel registry (detector + RTT input).
func (n *Node) Channels() *channel.Registry { return n.reg }

// Peers exposes the peer registry.
func (n *Node) Peers() *peers.Registry { return n.peers }

// Relay exposes the store-and-forward queue.
func (n *Node) Relay() *relay.Queue { return n.queue }

// Transfers exposes the multi-path transfer manager.
func (n *Node) Transfers() *transfer.Manager { return n.transfers }

// RegisterProvider attaches a channel provider. Last registration per kind
// wins.
func (n *Node) RegisterProvider(t Transmitter) {
	n.providers[t.Kind()] = t
	zap.L().Info("channel provider registered", zap.Stringer("channel", t.Kind()))
}

// RefreshChannels pulls a fresh availability sweep from the detector.
func (n *Node) RefreshChannels() {
	if n.detector == nil {
		return
	}
	n.reg.Apply(n.detector.DetectAvailability())
}

// SendResult describes how a Send was carried out.
type SendResult struct {
	Queued    bool // no route now; packet parked on the relay queue
	Channel   channel.Kind
	Fragments int // frames produced (1 when unfragmented)
}

// Send routes a payload to a destination node. When no channel is available
// the encoded frame is parked on the relay queue and the call still succeeds;
// transmission failures likewise fall back to the queue rather than losing
// the packet.
func (n *Node) Send(ctx context.Context, destination string, payload []byte, priority uint8, hint routing.Proximity, emergency bool) (SendResult, error) {
	var flags uint8
	if emergency {
		flags |= protocol.FlagEmergency
	}

	d := n.engine.SelectRoute(len(payload), hint, priority)
	if d.StoreForward {
		// No channel to size against, so fragment at the frame limit; the
		// queued frames go out as-is once a medium comes back.
		if fragment.NeedsSplit(len(payload), protocol.MaxPayload) {
			frags, err := fragment.Split(payload, protocol.MaxPayload)
			if err != nil {
				return SendResult{}, err
			}
			for i := range frags {
				env, err := frags[i].Marshal()
				if err != nil {
					return SendResult{}, err
				}
				frame, err := protocol.Encode(env, priority, protocol.DefaultTTL,
					flags|protocol.FlagFragment|protocol.FlagRelay, n.source, frags[i].Seq, frags[i].Total)
				if err != nil {
					return SendResult{}, err
				}
				n.enqueue(frame, destination, priority)
			}
			return SendResult{Queued: true, Fragments: len(frags)}, nil
		}
		frame, err := protocol.Encode(payload, priority, protocol.DefaultTTL, flags|protocol.FlagRelay, n.source, 0, 1)
		if err != nil {
			return SendResult{}, err
		}
		n.enqueue(frame, destination, priority)
		return SendResult{Queued: true, Fragments: 1}, nil
	}

	capacity := frameCapacity(d.Spec)
	if !fragment.NeedsSplit(len(payload), capacity) {
		frame, err := protocol.Encode(payload, priority, protocol.DefaultTTL, flags, n.source, 0, 1)
		if err != nil {
			return SendResult{}, err
		}
		n.dups.CheckAndMark(protocol.HashHex(payload))
		if err := n.transmit(ctx, d.Channel, destination, frame); err != nil {
			n.enqueue(frame, destination, priority)
			return SendResult{Queued: true, Channel: d.Channel, Fragments: 1}, nil
		}
		return SendResult{Channel: d.Channel, Fragments: 1}, nil
	}

	frags, err := fragment.Split(payload, capacity)
	if err != nil {
		return SendResult{}, err
	}
	res := SendResult{Channel: d.Channel, Fragments: len(frags)}
	for i := range frags {
		env, err := frags[i].Marshal()
		if err != nil {
			return res, err
		}
		frame, err := protocol.Encode(env, priority, protocol.DefaultTTL, flags|protocol.FlagFragment,
			n.source, frags[i].Seq, frags[i].Total)
		if err != nil {
			return res, err
		}
		n.dups.CheckAndMark(protocol.HashHex(env))
		if err := n.transmit(ctx, d.Channel, destination, frame); err != nil {
			n.enqueue(frame, destination, priority)
			res.Queued = true
		}
	}
	return res, nil
}

// sendComponent is the transfer.SendFunc: one transfer component over its
// assigned multi-path channel. Components too large for the channel are
// fragmented within it.
func (n *Node) sendComponent(ctx context.Context, destination string, component []byte, ch channel.Kind, spec channel.Spec) error {
	capacity := frameCapacity(spec)
	if !fragment.NeedsSplit(len(component), capacity) {
		frame, err := protocol.Encode(component, protocol.PriorityHighest+2, protocol.DefaultTTL, 0, n.source, 0, 1)
		if err != nil {
			return err
		}
		n.dups.CheckAndMark(protocol.HashHex(component))
		return n.transmit(ctx, ch, destination, frame)
	}
	frags, err := fragment.Split(component, capacity)
	if err != nil {
		return err
	}
	for i := range frags {
		env, err := frags[i].Marshal()
		if err != nil {
			return err
		}
		frame, err := protocol.Encode(env, protocol.PriorityHighest+2, protocol.DefaultTTL,
			protocol.FlagFragment, n.source, frags[i].Seq, frags[i].Total)
		if err != nil {
			return err
		}
		n.dups.CheckAndMark(protocol.HashHex(env))
		if err := n.transmit(ctx, ch, destination, frame); err != nil {
			return err
		}
	}
	return nil
}

// transmit hands a frame to the provider for a channel, bounded by the send
// timeout, and records the observed round trip on success.
func (n *Node) transmit(ctx context.Context, ch channel.Kind, destination string, frame []byte) error {
	p, ok := n.providers[ch]
	if !ok {
		zap.L().Debug("no provider for selected channel", zap.Stringer("channel", ch))
		return ErrNoProvider
	}
	tctx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()
	start := n.nowFn()
	if err := p.Transmit(tctx, destination, frame); err != nil {
		zap.L().Warn("transmission failed",
			zap.Stringer("channel", ch), zap.String("dest", destination), zap.Error(err))
		return err
	}
	n.reg.RecordRTT(ch, n.nowFn().Sub(start))
	n.metrics.framesOut.Add(1)
	return nil
}

func (n *Node) enqueue(frame []byte, destination string, priority uint8) {
	n.queue.Enqueue(frame, destination, priority)
	n.metrics.queued.Add(1)
}

// Receive processes one raw frame that arrived on a channel. Rejections
// (bad magic, CRC) and duplicate drops are counted, never propagated as
// node failures beyond the returned error.
func (n *Node) Receive(raw []byte, from channel.Kind) error {
	d, err := protocol.Decode(raw)
	switch {
	case errors.Is(err, protocol.ErrInvalidMagic):
		n.metrics.magicRejects.Add(1)
		return err
	case errors.Is(err, protocol.ErrCRCMismatch):
		n.metrics.crcRejects.Add(1)
		return err
	case err != nil:
		return err
	}
	n.metrics.framesIn.Add(1)

	if n.dups.CheckAndMark(protocol.HashHex(d.Payload)) {
		n.metrics.dupsDropped.Add(1)
		zap.L().Debug("duplicate frame dropped", zap.Stringer("channel", from))
		return nil
	}

	n.touchSource(d.Header.SourceID)

	if b, ok := decodeBeacon(d.Payload); ok {
		n.handleBeacon(b, from)
		return nil
	}

	if d.Fragment {
		frag, err := fragment.Unmarshal(d.Payload)
		if err != nil {
			zap.L().Warn("malformed fragment envelope", zap.Error(err))
			return err
		}
		res, err := n.frags.Add(frag)
		if err != nil {
			return err
		}
		if res != nil {
			n.deliver(res.Payload, res.Structured, from)
		}
		return nil
	}

	n.deliver(d.Payload, structured(d.Payload), from)
	n.maybeGossip(d, from)
	return nil
}

func (n *Node) deliver(payload []byte, parsed any, from channel.Kind) {
	n.metrics.delivered.Add(1)
	if n.content != nil {
		n.content.OnReceive(payload, parsed, from)
	}
}

// maybeGossip rebroadcasts an accepted frame with its TTL decremented.
// Novelty is the remaining TTL fraction: a frame fresh off its origin is
// highly novel, one near the end of its hop budget barely worth repeating.
func (n *Node) maybeGossip(d protocol.Decoded, from channel.Kind) {
	if d.Header.TTL == 0 {
		return
	}
	novelty := float64(d.Header.TTL) / float64(protocol.DefaultTTL)
	if !n.dups.ShouldGossip(d.Header.Priority, d.Emergency, novelty) {
		return
	}
	frame, err := protocol.Encode(d.Payload, d.Header.Priority, d.Header.TTL-1,
		d.Header.Flags|protocol.FlagRelay, d.Header.SourceID, d.Header.FragSeq, d.Header.FragTotal)
	if err != nil {
		return
	}
	sent := false
	for _, st := range n.reg.Available() {
		if st.Kind == from {
			continue // never echo straight back onto the arrival medium
		}
		if err := n.transmit(context.Background(), st.Kind, relay.Broadcast, frame); err == nil {
			sent = true
		}
	}
	if !sent {
		n.enqueue(frame, relay.Broadcast, d.Header.Priority)
	}
	n.metrics.gossiped.Add(1)
}

// touchSource bumps last-seen for the peer whose id matches the 4-byte wire
// prefix. Full ids are only learned from beacons; frames alone never register
// a new peer.
func (n *Node) touchSource(src [4]byte) {
	prefix := strings.TrimRight(string(src[:]), "\x00")
	if prefix == "" || strings.HasPrefix(n.id, prefix) {
		return
	}
	for _, p := range n.peers.List() {
		if strings.HasPrefix(p.ID, prefix) {
			n.peers.Touch(p.ID)
			return
		}
	}
}

// structured attempts the JSON interpretation of a payload; nil means the
// content is opaque bytes.
func structured(payload []byte) any {
	var v any
	if json.Unmarshal(payload, &v) == nil {
		return v
	}
	return nil
}
