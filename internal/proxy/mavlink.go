package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"golang.org/x/sys/unix"

	"github.com/finchrf/skybridge/internal/mavlink"
)

// MavlinkConfig is shared by the UDP and serial MAVLink proxies.
type MavlinkConfig struct {
	AggMaxSize int
	AggTimeout time.Duration
	InjectRSSI bool
	SysID      uint8
	CompID     uint8

	// RxHooks observe frames coming from the radio, TxHooks frames going
	// to it. More hooks may be added before the proxy starts.
	RxHooks []func([]byte)
	TxHooks []func([]byte)
}

// mavlinkCore is the direction-agnostic half of a MAVLink proxy: frame
// splitting, per-direction hooks, aggregation toward the radio, and
// RADIO_STATUS injection toward the local endpoint.
type mavlinkCore struct {
	cfg  MavlinkConfig
	peer atomic.Pointer[peerBox]
	agg  *aggBuffer

	upSplit   mavlink.Splitter // local endpoint → radio
	downSplit mavlink.Splitter // radio → local endpoint

	mu  sync.Mutex
	seq uint8

	writeLocal func([]byte) // device-specific egress to the local endpoint
	mirror     func([]byte) // optional rx mirror (OSD), nil when unset
}

func (c *mavlinkCore) init(cfg MavlinkConfig) {
	c.cfg = cfg
	c.agg = newAggBuffer(cfg.AggMaxSize, cfg.AggTimeout, func(batch []byte) {
		if box := c.peer.Load(); box != nil && box.s != nil {
			box.s.Send(batch)
		}
	})
}

// SetPeer swaps the radio-side destination (the selected NIC's TX proxy).
func (c *mavlinkCore) SetPeer(s Sender) {
	c.peer.Store(&peerBox{s: s})
}

// PushLocal consumes bytes arriving from the local endpoint and batches
// complete frames toward the radio. The TCP fan-out also feeds client
// traffic through here.
func (c *mavlinkCore) PushLocal(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upSplit.Push(data, func(frame []byte) {
		for _, hook := range c.cfg.TxHooks {
			hook(frame)
		}
		c.agg.push(frame)
	})
}

// Send implements Sender for the radio side: decoded downlink bytes are
// split into frames and written to the local endpoint.
func (c *mavlinkCore) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downSplit.Push(data, func(frame []byte) {
		for _, hook := range c.cfg.RxHooks {
			hook(frame)
		}
		c.writeLocal(frame)
		if c.mirror != nil {
			c.mirror(frame)
		}
	})
}

// SendRssi synthesizes a RADIO_STATUS frame toward the local endpoint.
// Registered with the aggregator as an rssi_cb when inject_rssi is set.
func (c *mavlinkCore) SendRssi(rxID string, rssi uint8, rxErrors, rxFec uint16, flags uint8) {
	if !c.cfg.InjectRSSI {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := mavlink.RadioStatus(c.seq, c.cfg.SysID, c.cfg.CompID, rssi, rxErrors, rxFec)
	c.seq++
	c.writeLocal(frame)
}

// MavlinkUDPProxy bridges a UDP MAVLink endpoint (ground station or
// autopilot) to the radio workers.
type MavlinkUDPProxy struct {
	mavlinkCore
	conn *net.UDPConn
	to   *net.UDPAddr
	last atomic.Pointer[net.UDPAddr]
}

// NewMavlinkUDPProxy binds on listen (nil for an ephemeral port). connect,
// when non-nil, means we initiate the exchange toward that address;
// otherwise replies go to the last datagram source. osd mirrors all rx
// traffic to an extra endpoint.
func NewMavlinkUDPProxy(listen, connect, osd *net.UDPAddr, cfg MavlinkConfig) (*MavlinkUDPProxy, error) {
	if listen == nil {
		listen = &net.UDPAddr{}
	}
	conn, err := net.ListenUDP("udp4", listen)
	if err != nil {
		return nil, fmt.Errorf("bind mavlink udp %s: %w", listen, err)
	}
	p := &MavlinkUDPProxy{conn: conn, to: connect}
	p.init(cfg)
	p.writeLocal = func(frame []byte) {
		if p.to != nil {
			p.conn.WriteToUDP(frame, p.to)
		} else if addr := p.last.Load(); addr != nil {
			p.conn.WriteToUDP(frame, addr)
		}
	}
	if osd != nil {
		p.mirror = func(frame []byte) {
			p.conn.WriteToUDP(frame, osd)
		}
	}
	return p, nil
}

func (p *MavlinkUDPProxy) LocalPort() int {
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

// Run pumps local-endpoint datagrams into the aggregation path.
func (p *MavlinkUDPProxy) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.conn.Close()
	}()

	buf := make([]byte, 65536)
	for {
		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				p.agg.stop()
				return nil
			}
			return fmt.Errorf("mavlink udp read: %w", err)
		}
		if p.to == nil {
			p.last.Store(addr)
		}
		p.PushLocal(buf[:n])
	}
}

func (p *MavlinkUDPProxy) Close() error {
	p.agg.stop()
	return p.conn.Close()
}

// MavlinkSerialProxy bridges a serial autopilot to the radio workers.
type MavlinkSerialProxy struct {
	mavlinkCore
	port serial.Port

	// exclFd holds the tty in exclusive mode for the proxy's lifetime;
	// the serial library does not expose its own descriptor.
	exclFd int

	wmu sync.Mutex
}

// NewMavlinkSerialProxy opens dev exclusive at the given baud rate.
// Exclusive mode makes further opens of the tty fail with EBUSY.
func NewMavlinkSerialProxy(dev string, baud int, cfg MavlinkConfig) (*MavlinkSerialProxy, error) {
	port, err := serial.Open(dev, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", dev, err)
	}
	exclFd, err := setExclusive(dev)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("open serial %s exclusive: %w", dev, err)
	}
	p := &MavlinkSerialProxy{port: port, exclFd: exclFd}
	p.init(cfg)
	p.writeLocal = func(frame []byte) {
		p.wmu.Lock()
		defer p.wmu.Unlock()
		p.port.Write(frame)
	}
	return p, nil
}

// setExclusive sets TIOCEXCL on dev through a sidecar descriptor, which
// must stay open for the flag to hold.
func setExclusive(dev string) (int, error) {
	fd, err := unix.Open(dev, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Run pumps serial bytes into the aggregation path.
func (p *MavlinkSerialProxy) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.port.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, err := p.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				p.agg.stop()
				return nil
			}
			return fmt.Errorf("serial read: %w", err)
		}
		if n > 0 {
			p.PushLocal(buf[:n])
		}
	}
}

func (p *MavlinkSerialProxy) Close() error {
	p.agg.stop()
	unix.Close(p.exclFd)
	return p.port.Close()
}
