// Package udp is the datagram provider backing the internet channel. One
// frame per datagram; peers are static, configured as node-id to address
// mappings.
package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/relay"
)

// maxDatagram comfortably covers the internet channel's largest frame.
const maxDatagram = 64 * 1024

var ErrUnknownDestination = errors.New("udp: no address for destination")

// Handler consumes a received frame.
type Handler func(frame []byte)

// Provider sends and receives frames over a single UDP socket.
type Provider struct {
	conn *net.UDPConn

	mu        sync.RWMutex
	peersByID map[string]*net.UDPAddr
}

// New binds the local socket. listen is a host:port, typically ":7780".
func New(listen string) (*Provider, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	zap.L().Info("udp provider listening", zap.Stringer("addr", conn.LocalAddr()))
	return &Provider{conn: conn, peersByID: make(map[string]*net.UDPAddr)}, nil
}

func (p *Provider) Kind() channel.Kind { return channel.KindInternet }

// LocalAddr returns the bound socket address.
func (p *Provider) LocalAddr() net.Addr { return p.conn.LocalAddr() }

// AddPeer maps a node id to a reachable UDP address.
func (p *Provider) AddPeer(nodeID, addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.peersByID[nodeID] = raddr
	p.mu.Unlock()
	zap.L().Info("udp peer added", zap.String("peer", nodeID), zap.Stringer("addr", raddr))
	return nil
}

// Transmit writes one datagram per destination. Broadcast fans out to every
// configured peer. The context deadline bounds the socket write.
func (p *Provider) Transmit(ctx context.Context, destination string, frame []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(dl)
	} else {
		_ = p.conn.SetWriteDeadline(time.Time{})
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if destination == relay.Broadcast {
		if len(p.peersByID) == 0 {
			return ErrUnknownDestination
		}
		var firstErr error
		for _, raddr := range p.peersByID {
			if _, err := p.conn.WriteToUDP(frame, raddr); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	raddr, ok := p.peersByID[destination]
	if !ok {
		return ErrUnknownDestination
	}
	_, err := p.conn.WriteToUDP(frame, raddr)
	return err
}

// Serve reads datagrams and hands each frame to the handler until ctx is
// cancelled. Run it in its own goroutine.
func (p *Provider) Serve(ctx context.Context, h Handler) {
	go func() {
		<-ctx.Done()
		_ = p.conn.Close()
	}()
	buf := make([]byte, maxDatagram)
	for {
		n, raddr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient read failures must not silence the channel.
			zap.L().Warn("udp read failed", zap.Error(err))
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		zap.L().Debug("udp datagram received", zap.Int("bytes", n), zap.Stringer("from", raddr))
		h(frame)
	}
}

// Close releases the socket.
func (p *Provider) Close() error { return p.conn.Close() }
