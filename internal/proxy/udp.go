// Package proxy implements the user-space data movers that sit between
// local endpoints (UDP apps, serial autopilots, tunnel devices) and the
// per-NIC transmitter workers. Proxies expose a swappable peer pointer so
// the antenna selector can redirect traffic without touching sockets.
package proxy

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
)

// Sender is anything a proxy can forward a payload to.
type Sender interface {
	Send(p []byte)
}

// peerBox wraps a Sender so it can live in an atomic.Pointer.
type peerBox struct{ s Sender }

// UDPProxy forwards datagrams received on its socket to its current peer.
// Send pushes bytes the other way: to the fixed destination when one was
// configured, otherwise back to the last datagram source.
type UDPProxy struct {
	conn *net.UDPConn
	to   *net.UDPAddr

	peer atomic.Pointer[peerBox]
	last atomic.Pointer[net.UDPAddr]
}

// NewUDPProxy binds a socket on listen (port 0 picks an ephemeral port).
// to, when non-nil, fixes the egress destination.
func NewUDPProxy(listen, to *net.UDPAddr) (*UDPProxy, error) {
	if listen == nil {
		listen = &net.UDPAddr{}
	}
	conn, err := net.ListenUDP("udp4", listen)
	if err != nil {
		return nil, fmt.Errorf("bind udp %s: %w", listen, err)
	}
	return &UDPProxy{conn: conn, to: to}, nil
}

// LocalPort returns the bound port, for handing to workers.
func (p *UDPProxy) LocalPort() int {
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetPeer swaps the ingress destination. Safe against a concurrent Run loop.
func (p *UDPProxy) SetPeer(s Sender) {
	p.peer.Store(&peerBox{s: s})
}

// Send implements Sender: payloads go out the socket.
func (p *UDPProxy) Send(b []byte) {
	if p.to != nil {
		p.conn.WriteToUDP(b, p.to)
		return
	}
	if addr := p.last.Load(); addr != nil {
		p.conn.WriteToUDP(b, addr)
	}
}

// Run pumps ingress datagrams to the current peer until ctx is cancelled.
func (p *UDPProxy) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.conn.Close()
	}()

	buf := make([]byte, 65536)
	for {
		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("udp proxy read: %w", err)
		}
		if p.to == nil {
			p.last.Store(addr)
		}
		if box := p.peer.Load(); box != nil && box.s != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			box.s.Send(data)
		}
	}
}

// Close releases the socket without waiting for Run to notice.
func (p *UDPProxy) Close() error {
	return p.conn.Close()
}
