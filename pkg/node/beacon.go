package node

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/peers"
	"dtumesh/pkg/protocol"
	"dtumesh/pkg/protocol/codec"
	"dtumesh/pkg/relay"
)

// Presence beacons announce a node to whoever is in reach. They are the only
// way a peer enters the registry; ordinary frames merely refresh one.
const (
	beaconKind     = "dtumesh/presence"
	beaconPriority = uint8(5)
	beaconTTL      = uint8(1) // beacons describe local reach, never relayed far
)

var beaconWire = codec.MustCBOR()

type beacon struct {
	Kind     string         `cbor:"1,keyasint"`
	NodeID   string         `cbor:"2,keyasint"`
	Channels []channel.Kind `cbor:"3,keyasint,omitempty"`
	Relay    bool           `cbor:"4,keyasint"`
	SentAt   int64          `cbor:"5,keyasint"`
	Nonce    []byte         `cbor:"6,keyasint"`
}

// decodeBeacon tries the beacon interpretation of a frame payload. The kind
// marker keeps ordinary CBOR content from being mistaken for a beacon.
func decodeBeacon(payload []byte) (beacon, bool) {
	var b beacon
	if beaconWire.Unmarshal(payload, &b) != nil {
		return beacon{}, false
	}
	if b.Kind != beaconKind || b.NodeID == "" {
		return beacon{}, false
	}
	return b, true
}

// SendBeacon broadcasts a presence announcement on every available channel
// with a provider and returns how many went out. The nonce keeps each beacon
// distinct so dedup never suppresses a fresh announcement.
func (n *Node) SendBeacon(ctx context.Context) int {
	avail := n.reg.Available()
	if len(avail) == 0 {
		return 0
	}
	kinds := make([]channel.Kind, 0, len(avail))
	for _, st := range avail {
		kinds = append(kinds, st.Kind)
	}
	nonce := uuid.New()
	payload, err := beaconWire.Marshal(beacon{
		Kind:     beaconKind,
		NodeID:   n.id,
		Channels: kinds,
		Relay:    n.relayWilling,
		SentAt:   n.nowFn().UnixMilli(),
		Nonce:    nonce[:],
	})
	if err != nil {
		zap.L().Error("beacon encode failed", zap.Error(err))
		return 0
	}
	frame, err := protocol.Encode(payload, beaconPriority, beaconTTL, 0, n.source, 0, 1)
	if err != nil {
		zap.L().Error("beacon frame failed", zap.Error(err))
		return 0
	}
	n.dups.CheckAndMark(protocol.HashHex(payload))

	sent := 0
	for _, st := range avail {
		if err := n.transmit(ctx, st.Kind, relay.Broadcast, frame); err == nil {
			sent++
		}
	}
	if sent > 0 {
		n.metrics.beaconsSent.Add(1)
		zap.L().Debug("presence beacon sent", zap.Int("channels", sent))
	}
	return sent
}

func (n *Node) handleBeacon(b beacon, from channel.Kind) {
	n.metrics.beaconsRecv.Add(1)
	n.peers.Register(peers.Peer{
		ID:       b.NodeID,
		Channels: b.Channels,
		Relay:    b.Relay,
		Source:   "beacon",
	})
	zap.L().Debug("presence beacon received",
		zap.String("peer", b.NodeID), zap.Stringer("channel", from))
}
