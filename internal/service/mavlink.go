package service

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finchrf/skybridge/internal/aggregator"
	"github.com/finchrf/skybridge/internal/config"
	"github.com/finchrf/skybridge/internal/logger"
	"github.com/finchrf/skybridge/internal/mavlink"
	"github.com/finchrf/skybridge/internal/proxy"
	"github.com/finchrf/skybridge/internal/stats"
)

// Default MAVLink identity of injected RADIO_STATUS frames.
const (
	defaultMavSysID  = 3
	defaultMavCompID = 242
)

// runMavlink wires a bidirectional MAVLink bridge: one RX and one TX
// worker across all NICs, a UDP or serial proxy toward the local endpoint,
// RSSI injection and the optional TCP fan-out.
func (b *Builder) runMavlink(ctx context.Context, svc config.Service) error {
	cfg := &svc.Cfg
	if cfg.StreamRx == nil || cfg.StreamTx == nil {
		return fmt.Errorf("stream_rx and stream_tx are required")
	}
	peer, err := ParsePeer(cfg.Peer)
	if err != nil {
		return err
	}

	var osd *net.UDPAddr
	if cfg.OSD != "" {
		p, err := ParsePeer(cfg.OSD)
		if err != nil || p.Connect == nil {
			return fmt.Errorf("osd must be a connect:// address: %s", cfg.OSD)
		}
		osd = p.Connect
		logger.Info("mirror stream to osd", "service", svc.Name, "addr", osd.String())
	}

	mcfg := b.mavlinkConfig(cfg, svc.Name)

	var fanout *proxy.TCPFanout
	if cfg.MavlinkTCPPort != 0 {
		fanout = &proxy.TCPFanout{Port: cfg.MavlinkTCPPort}
		mcfg.RxHooks = append(mcfg.RxHooks, fanout.Write)
	}

	var pIn proxy.MavlinkProxy
	if peer.Serial != nil {
		logger.Info("open serial port", "service", svc.Name,
			"dev", peer.Serial.Device, "baud", peer.Serial.Baud)
		pIn, err = proxy.NewMavlinkSerialProxy(peer.Serial.Device, peer.Serial.Baud, mcfg)
	} else {
		pIn, err = proxy.NewMavlinkUDPProxy(peer.Listen, peer.Connect, osd, mcfg)
	}
	if err != nil {
		return err
	}

	var closers []closer
	closers = append(closers, pIn)
	defer func() { closeAll(closers) }()

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	defer g.Wait()
	defer cancel()

	if fanout != nil {
		fanout.Ingress = pIn.PushLocal
		g.Go(func() error { return fanout.ListenAndServe(gctx) })
	}

	// The RX worker decodes into this proxy, which hands frames to pIn.
	pRx, err := proxy.NewUDPProxy(nil, nil)
	if err != nil {
		return err
	}
	closers = append(closers, pRx)
	pRx.SetPeer(pIn)
	g.Go(func() error { return pRx.Run(gctx) })

	ports, controlPort, err := b.startTxWorker(g, gctx, cfg, svc.Name, 0, b.Wlans, true)
	if err != nil {
		return err
	}
	logger.Info("tx ports resolved", "service", svc.Name,
		"ports", fmt.Sprint(ports), "control_port", controlPort)

	pTxL, err := b.txProxies(g, gctx, ports, &closers)
	if err != nil {
		return err
	}

	b.Agg.AddAntSelCB(func(idx int) {
		if idx >= 0 && idx < len(pTxL) {
			pIn.SetPeer(pTxL[idx])
		}
	})
	b.Agg.AddRssiCB(pIn.SendRssi)

	g.Go(func() error { return pIn.Run(gctx) })

	b.startRxWorker(g, gctx, cfg, svc.Name, pRx.LocalPort())

	return g.Wait()
}

// runTunnel is the mavlink wiring pattern with a TUN device as the local
// endpoint and keep-alives broadcast to every NIC.
func (b *Builder) runTunnel(ctx context.Context, svc config.Service) error {
	cfg := &svc.Cfg
	if cfg.StreamRx == nil || cfg.StreamTx == nil {
		return fmt.Errorf("stream_rx and stream_tx are required")
	}

	common := &b.Settings.Common
	pIn, err := proxy.NewTUNTAPProxy(ctx, cfg.Ifname, cfg.Ifaddr, common.RadioMTU,
		cfg.DefaultRoute, common.TunnelAggDelay())
	if err != nil {
		return err
	}

	var closers []closer
	closers = append(closers, pIn)
	defer func() { closeAll(closers) }()

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	defer g.Wait()
	defer cancel()

	pRx, err := proxy.NewUDPProxy(nil, nil)
	if err != nil {
		return err
	}
	closers = append(closers, pRx)
	pRx.SetPeer(pIn)
	g.Go(func() error { return pRx.Run(gctx) })

	ports, controlPort, err := b.startTxWorker(g, gctx, cfg, svc.Name, 0, b.Wlans, true)
	if err != nil {
		return err
	}
	logger.Info("tx ports resolved", "service", svc.Name,
		"ports", fmt.Sprint(ports), "control_port", controlPort)

	pTxL, err := b.txProxies(g, gctx, ports, &closers)
	if err != nil {
		return err
	}

	b.Agg.AddAntSelCB(func(idx int) {
		if idx >= 0 && idx < len(pTxL) {
			pIn.SetPeer(pTxL[idx])
		}
	})

	// Keep-alives go to every card so direct antennas work on both ends;
	// with mirroring the transmitter already fans out by itself.
	all := make([]proxy.Sender, 0, len(pTxL))
	if cfg.Mirror {
		all = append(all, pTxL[0])
	} else {
		for _, p := range pTxL {
			all = append(all, p)
		}
	}
	pIn.SetAllPeers(all)

	g.Go(func() error { return pIn.Run(gctx) })

	b.startRxWorker(g, gctx, cfg, svc.Name, pRx.LocalPort())

	return g.Wait()
}

// runUDPProxy is the mavlink wiring pattern with a plain UDP proxy and no
// aggregation or injection. Either direction may be absent.
func (b *Builder) runUDPProxy(ctx context.Context, svc config.Service) error {
	cfg := &svc.Cfg
	if cfg.StreamRx == nil && cfg.StreamTx == nil {
		return fmt.Errorf("at least one of stream_rx/stream_tx is required")
	}
	peer, err := ParsePeer(cfg.Peer)
	if err != nil {
		return err
	}
	if peer.Serial != nil {
		return fmt.Errorf("unsupported peer address: %s", cfg.Peer)
	}

	pIn, err := proxy.NewUDPProxy(peer.Listen, peer.Connect)
	if err != nil {
		return err
	}

	var closers []closer
	closers = append(closers, pIn)
	defer func() { closeAll(closers) }()

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	defer g.Wait()
	defer cancel()

	g.Go(func() error { return pIn.Run(gctx) })

	if cfg.StreamRx != nil {
		pRx, err := proxy.NewUDPProxy(nil, nil)
		if err != nil {
			return err
		}
		closers = append(closers, pRx)
		pRx.SetPeer(pIn)
		g.Go(func() error { return pRx.Run(gctx) })
		b.startRxWorker(g, gctx, cfg, svc.Name, pRx.LocalPort())
	}

	if cfg.StreamTx != nil {
		ports, controlPort, err := b.startTxWorker(g, gctx, cfg, svc.Name, 0, b.Wlans, true)
		if err != nil {
			return err
		}
		logger.Info("tx ports resolved", "service", svc.Name,
			"ports", fmt.Sprint(ports), "control_port", controlPort)

		pTxL, err := b.txProxies(g, gctx, ports, &closers)
		if err != nil {
			return err
		}
		b.Agg.AddAntSelCB(func(idx int) {
			if idx >= 0 && idx < len(pTxL) {
				pIn.SetPeer(pTxL[idx])
			}
		})
	}

	return g.Wait()
}

// txProxies allocates one forwarding proxy per NIC toward the TX worker's
// reported ephemeral ports.
func (b *Builder) txProxies(g *errgroup.Group, ctx context.Context, ports map[string]int, closers *[]closer) ([]*proxy.UDPProxy, error) {
	out := make([]*proxy.UDPProxy, 0, len(b.Wlans))
	for _, wlan := range b.Wlans {
		port, ok := ports[wlan]
		if !ok {
			return nil, fmt.Errorf("tx worker reported no port for %s", wlan)
		}
		p, err := proxy.NewUDPProxy(nil, loopback(port))
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, p)
		out = append(out, p)
		g.Go(func() error { return p.Run(ctx) })
	}
	return out, nil
}

// mavlinkConfig assembles the proxy configuration with the ARM and
// message-logging hooks.
func (b *Builder) mavlinkConfig(cfg *config.ServiceConfig, name string) proxy.MavlinkConfig {
	common := &b.Settings.Common

	sysID := cfg.MavlinkSysID
	if sysID == 0 {
		sysID = defaultMavSysID
	}
	compID := cfg.MavlinkCompID
	if compID == 0 {
		compID = defaultMavCompID
	}

	mcfg := proxy.MavlinkConfig{
		AggMaxSize: common.RadioMTU,
		AggTimeout: common.MavlinkAggDelay(),
		InjectRSSI: cfg.InjectRSSI,
		SysID:      uint8(sysID),
		CompID:     uint8(compID),
	}

	if cfg.CallOnArm != "" || cfg.CallOnDisarm != "" {
		arm := &mavlink.ArmWatcher{OnArm: cfg.CallOnArm, OnDisarm: cfg.CallOnDisarm}
		mcfg.RxHooks = append(mcfg.RxHooks, arm.Frame)
		mcfg.TxHooks = append(mcfg.TxHooks, arm.Frame)
	}

	if cfg.LogMessages && b.Agg.BinLog() != nil {
		hook := mavLogHook(name, b.Agg.BinLog())
		mcfg.RxHooks = append(mcfg.RxHooks, hook)
		mcfg.TxHooks = append(mcfg.TxHooks, hook)
	}
	return mcfg
}

func mavLogHook(name string, log aggregator.Subscriber) func([]byte) {
	return func(frame []byte) {
		data := make([]byte, len(frame))
		copy(data, frame)
		log.SendStats(stats.Mavlink{
			Type:      stats.TypeMavlink,
			Timestamp: float64(time.Now().UnixNano()) / 1e9,
			ID:        name,
			Data:      data,
		})
	}
}
