package service

import (
	"context"
	"fmt"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/finchrf/skybridge/internal/aggregator"
	"github.com/finchrf/skybridge/internal/config"
	"github.com/finchrf/skybridge/internal/logger"
	"github.com/finchrf/skybridge/internal/supervisor"
	"github.com/finchrf/skybridge/internal/telemetry"
)

// Builder instantiates workers and proxies for one profile's services.
type Builder struct {
	Settings *config.Settings
	Wlans    []string
	LinkID   int
	Agg      *aggregator.Aggregator
}

type closer interface{ Close() error }

// Run starts one service and blocks until it stops. Any constituent
// failure tears the whole service down: sibling workers get SIGTERM,
// listeners close, pending port promises are cancelled.
func (b *Builder) Run(ctx context.Context, svc config.Service) error {
	logger.Info("starting service", "service", svc.Name, "type", svc.Type,
		"wlans", strings.Join(b.Wlans, ", "))

	var err error
	switch svc.Type {
	case config.ServiceUDPDirectTx:
		err = b.runUDPDirectTx(ctx, svc)
	case config.ServiceUDPDirectRx:
		err = b.runUDPDirectRx(ctx, svc)
	case config.ServiceMavlink:
		err = b.runMavlink(ctx, svc)
	case config.ServiceTunnel:
		err = b.runTunnel(ctx, svc)
	case config.ServiceUDPProxy:
		err = b.runUDPProxy(ctx, svc)
	default:
		err = fmt.Errorf("%s: unknown service type %q", svc.Name, svc.Type)
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("service %s: %w", svc.Name, err)
	}
	return err
}

// runUDPDirectTx feeds one UDP input port straight into a TX worker.
// Direct UDP has no TX diversity: only the first NIC is used, unless
// mirroring puts the same stream on every card.
func (b *Builder) runUDPDirectTx(ctx context.Context, svc config.Service) error {
	cfg := &svc.Cfg
	if cfg.StreamTx == nil {
		return fmt.Errorf("stream_tx is required")
	}
	peer, err := ParsePeer(cfg.Peer)
	if err != nil {
		return err
	}
	if peer.Listen == nil {
		return fmt.Errorf("unsupported peer address: %s", cfg.Peer)
	}
	if !cfg.Mirror && len(b.Wlans) > 1 {
		return fmt.Errorf("udp_direct_tx doesn't support diversity but multiple cards selected; use udp_proxy instead")
	}

	wlans := b.Wlans[:1]
	if cfg.Mirror {
		wlans = b.Wlans
	}
	logger.Info("listen for stream", "service", svc.Name, "stream", *cfg.StreamTx,
		"addr", peer.Listen.String())

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	defer g.Wait()
	defer cancel()

	_, controlPort, err := b.startTxWorker(g, gctx, cfg, svc.Name, peer.Listen.Port, wlans, false)
	if err != nil {
		return err
	}
	logger.Info("tx control port resolved", "service", svc.Name, "control_port", controlPort)

	return g.Wait()
}

// runUDPDirectRx runs one RX worker across all NICs, decoded output sent
// to the configured connect address.
func (b *Builder) runUDPDirectRx(ctx context.Context, svc config.Service) error {
	cfg := &svc.Cfg
	if cfg.StreamRx == nil {
		return fmt.Errorf("stream_rx is required")
	}
	peer, err := ParsePeer(cfg.Peer)
	if err != nil {
		return err
	}
	if peer.Connect == nil {
		return fmt.Errorf("unsupported peer address: %s", cfg.Peer)
	}
	logger.Info("send stream", "service", svc.Name, "stream", *cfg.StreamRx,
		"addr", peer.Connect.String())

	parser := telemetry.NewRxParser(b.Agg, svc.Name+" rx")
	w := &supervisor.Worker{
		ID:     svc.Name + " rx",
		Argv:   b.rxCommand(cfg, peer.Connect.IP.String(), peer.Connect.Port, 0, b.Wlans),
		OnLine: parser.Line,
	}
	logger.Info("worker command", "service", svc.Name, "argv", strings.Join(w.Argv, " "))
	return w.Run(ctx)
}

// startTxWorker spawns a wfb_tx under g and resolves its ports. With
// wantPorts it blocks until LISTEN_UDP_END delivers the per-NIC input
// ports; the control port is awaited whenever the config requests an
// ephemeral one.
func (b *Builder) startTxWorker(g *errgroup.Group, ctx context.Context, cfg *config.ServiceConfig, name string, port int, wlans []string, wantPorts bool) (map[string]int, int, error) {
	parser := telemetry.NewTxParser(b.Agg, name+" tx")

	var portsP *supervisor.Promise[map[string]int]
	if wantPorts {
		portsP = supervisor.NewPromise[map[string]int]()
		parser.OnPorts = portsP.Fulfill
	}
	var controlP *supervisor.Promise[int]
	if cfg.ControlPort == 0 {
		controlP = supervisor.NewPromise[int]()
		parser.OnControlPort = controlP.Fulfill
	}

	w := &supervisor.Worker{
		ID:     name + " tx",
		Argv:   b.txCommand(cfg, port, wlans),
		OnLine: parser.Line,
	}
	if portsP != nil {
		w.BindPromise(portsP)
	}
	if controlP != nil {
		w.BindPromise(controlP)
	}
	logger.Info("worker command", "service", name, "argv", strings.Join(w.Argv, " "))
	g.Go(func() error { return w.Run(ctx) })

	var ports map[string]int
	if portsP != nil {
		var err error
		ports, err = portsP.Wait(ctx)
		if err != nil {
			return nil, 0, err
		}
	}

	controlPort := cfg.ControlPort
	if controlP != nil {
		var err error
		controlPort, err = controlP.Wait(ctx)
		if err != nil {
			return nil, 0, err
		}
	}
	return ports, controlPort, nil
}

// startRxWorker spawns a wfb_rx under g, decoding toward localPort.
func (b *Builder) startRxWorker(g *errgroup.Group, ctx context.Context, cfg *config.ServiceConfig, name string, localPort int) {
	parser := telemetry.NewRxParser(b.Agg, name+" rx")
	w := &supervisor.Worker{
		ID:     name + " rx",
		Argv:   b.rxCommand(cfg, "", 0, localPort, b.Wlans),
		OnLine: parser.Line,
	}
	logger.Info("worker command", "service", name, "argv", strings.Join(w.Argv, " "))
	g.Go(func() error { return w.Run(ctx) })
}

func loopback(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func closeAll(closers []closer) {
	for _, c := range closers {
		c.Close()
	}
}
