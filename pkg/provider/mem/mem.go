// Package mem is an in-process loopback provider. Tests and single-binary
// demos wire nodes together with it instead of a real medium.
package mem

import (
	"context"
	"errors"
	"sync"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/relay"
)

// ErrUnknownDestination means no link exists for the addressed node.
var ErrUnknownDestination = errors.New("mem: unknown destination")

// Sink consumes a transmitted frame on the receiving side.
type Sink func(frame []byte) error

// Provider delivers frames synchronously to registered sinks. It can pose as
// any channel kind, so tests can exercise routing across several mediums with
// one implementation.
type Provider struct {
	kind channel.Kind

	mu    sync.RWMutex
	links map[string]Sink
}

func New(kind channel.Kind) *Provider {
	return &Provider{kind: kind, links: make(map[string]Sink)}
}

func (p *Provider) Kind() channel.Kind { return p.kind }

// Connect attaches a sink for a destination node id.
func (p *Provider) Connect(nodeID string, sink Sink) {
	p.mu.Lock()
	p.links[nodeID] = sink
	p.mu.Unlock()
}

// Disconnect removes a link; later sends to that node fail.
func (p *Provider) Disconnect(nodeID string) {
	p.mu.Lock()
	delete(p.links, nodeID)
	p.mu.Unlock()
}

// Transmit hands the frame to the destination's sink, or to every sink for
// a broadcast. Each sink gets its own copy of the frame.
func (p *Provider) Transmit(ctx context.Context, destination string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if destination == relay.Broadcast {
		if len(p.links) == 0 {
			return ErrUnknownDestination
		}
		for _, sink := range p.links {
			_ = sink(append([]byte(nil), frame...))
		}
		return nil
	}
	sink, ok := p.links[destination]
	if !ok {
		return ErrUnknownDestination
	}
	return sink(append([]byte(nil), frame...))
}
