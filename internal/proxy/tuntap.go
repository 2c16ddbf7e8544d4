package proxy

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/songgao/water"

	"github.com/finchrf/skybridge/internal/nicinit"
)

// keepaliveInterval paces the empty packets that keep the return path of
// every NIC alive (receivers only learn TX addresses from traffic).
const keepaliveInterval = time.Second

// keepalive is a zero-length framed packet; the peer's decoder skips it.
var keepalive = []byte{0, 0}

// TUNTAPProxy bridges a layer-3 tunnel device to the radio workers.
// Packets read from the device are length-prefixed (u16 big-endian) and
// aggregated with the same size/timeout rule as MAVLink frames.
type TUNTAPProxy struct {
	iface *water.Interface
	mtu   int
	peer  atomic.Pointer[peerBox]
	agg   *aggBuffer

	mu       sync.Mutex
	allPeers []Sender

	wmu sync.Mutex
}

// NewTUNTAPProxy creates the tunnel device, assigns ifaddr (CIDR), sets
// the MTU, brings the link up and optionally installs a default route.
func NewTUNTAPProxy(ctx context.Context, ifname, ifaddr string, mtu int, defaultRoute bool, aggTimeout time.Duration) (*TUNTAPProxy, error) {
	iface, err := water.New(water.Config{
		DeviceType:             water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{Name: ifname},
	})
	if err != nil {
		return nil, fmt.Errorf("create tun %s: %w", ifname, err)
	}

	setup := [][]string{
		{"ip", "addr", "add", ifaddr, "dev", ifname},
		{"ip", "link", "set", ifname, "mtu", fmt.Sprint(mtu)},
		{"ip", "link", "set", ifname, "up"},
	}
	if defaultRoute {
		setup = append(setup, []string{"ip", "route", "add", "default", "dev", ifname})
	}
	for _, argv := range setup {
		if err := nicinit.Exec(ctx, argv[0], argv[1:]...); err != nil {
			iface.Close()
			return nil, err
		}
	}

	p := &TUNTAPProxy{iface: iface, mtu: mtu}
	p.agg = newAggBuffer(mtu, aggTimeout, func(batch []byte) {
		if box := p.peer.Load(); box != nil && box.s != nil {
			box.s.Send(batch)
		}
	})
	return p, nil
}

// SetPeer swaps the radio-side destination for regular traffic.
func (p *TUNTAPProxy) SetPeer(s Sender) {
	p.peer.Store(&peerBox{s: s})
}

// SetAllPeers sets the keep-alive broadcast set. With mirroring the
// transmitter fans out by itself, so only the first peer is kept there.
func (p *TUNTAPProxy) SetAllPeers(peers []Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allPeers = peers
}

// Send implements Sender: a batch from the radio is split back into
// packets and written to the tunnel device.
func (p *TUNTAPProxy) Send(batch []byte) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	for len(batch) >= 2 {
		n := int(binary.BigEndian.Uint16(batch))
		batch = batch[2:]
		if n == 0 {
			continue // keepalive
		}
		if n > len(batch) {
			return
		}
		p.iface.Write(batch[:n])
		batch = batch[n:]
	}
}

// Run pumps tunnel packets toward the radio and broadcasts keep-alives to
// every peer until ctx is cancelled.
func (p *TUNTAPProxy) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.iface.Close()
	}()

	go p.keepaliveLoop(ctx)

	buf := make([]byte, p.mtu+4)
	for {
		n, err := p.iface.Read(buf[2:])
		if err != nil {
			if ctx.Err() != nil {
				p.agg.stop()
				return nil
			}
			return fmt.Errorf("tun read: %w", err)
		}
		binary.BigEndian.PutUint16(buf[:2], uint16(n))
		unit := make([]byte, 2+n)
		copy(unit, buf[:2+n])
		p.agg.push(unit)
	}
}

func (p *TUNTAPProxy) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			peers := p.allPeers
			p.mu.Unlock()
			for _, s := range peers {
				s.Send(keepalive)
			}
		}
	}
}

func (p *TUNTAPProxy) Close() error {
	p.agg.stop()
	return p.iface.Close()
}
