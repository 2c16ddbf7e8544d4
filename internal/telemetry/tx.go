package telemetry

import (
	"strconv"
	"strings"

	"github.com/finchrf/skybridge/internal/logger"
)

// TxHandler receives parsed transmitter telemetry.
type TxHandler interface {
	UpdateTxStats(txID string, packets TxPacketStats, latency map[AntennaID][]int64)
}

// TxParser consumes wfb_tx stdout telemetry.
//
// Besides the periodic TX_ANT/PKT stats, the transmitter announces the
// ephemeral UDP port it bound for each NIC (LISTEN_UDP, closed by
// LISTEN_UDP_END) and, when asked to pick one, its control port
// (LISTEN_UDP_CONTROL). Those land in the OnPorts/OnControlPort callbacks,
// each of which fires at most once.
type TxParser struct {
	handler TxHandler
	txID    string

	// OnPorts is invoked once when LISTEN_UDP_END closes port discovery,
	// with the wlan→port map collected from LISTEN_UDP records.
	OnPorts func(map[string]int)
	// OnControlPort is invoked once when the worker reports its control port.
	OnControlPort func(int)

	ports map[string]int
	ant   map[AntennaID][]int64
	count TxPacketStats
}

func NewTxParser(handler TxHandler, txID string) *TxParser {
	return &TxParser{
		handler: handler,
		txID:    txID,
		ports:   make(map[string]int),
		ant:     make(map[AntennaID][]int64),
	}
}

// Line parses one telemetry record. Unknown commands are tolerated; records
// with a bad shape are logged and dropped.
func (p *TxParser) Line(line string) {
	if err := p.parse(strings.TrimSpace(line)); err != nil {
		logger.Error("bad telemetry", "worker", p.txID, "line", line)
	}
}

func (p *TxParser) parse(line string) error {
	cols := strings.Split(line, "\t")
	if len(cols) < 2 {
		return ErrBadTelemetry
	}

	switch cols[1] {
	case "LISTEN_UDP":
		if len(cols) != 3 {
			return ErrBadTelemetry
		}
		port, wlan, ok := strings.Cut(cols[2], ":")
		if !ok {
			return ErrBadTelemetry
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return ErrBadTelemetry
		}
		p.ports[wlan] = n

	case "LISTEN_UDP_END":
		if p.OnPorts != nil {
			cb := p.OnPorts
			p.OnPorts = nil
			cb(p.ports)
		}

	case "LISTEN_UDP_CONTROL":
		if len(cols) != 3 {
			return ErrBadTelemetry
		}
		if p.OnControlPort == nil {
			return nil
		}
		n, err := strconv.Atoi(cols[2])
		if err != nil {
			return ErrBadTelemetry
		}
		cb := p.OnControlPort
		p.OnControlPort = nil
		cb(n)

	case "TX_ANT":
		if len(cols) != 4 {
			return ErrBadTelemetry
		}
		antID, err := strconv.ParseUint(cols[2], 16, 16)
		if err != nil {
			return ErrBadTelemetry
		}
		parts := strings.Split(cols[3], ":")
		v := make([]int64, len(parts))
		for i, part := range parts {
			n, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return ErrBadTelemetry
			}
			v[i] = n
		}
		p.ant[AntennaID(antID)] = v

	case "PKT":
		if len(cols) != 3 {
			return ErrBadTelemetry
		}
		v, err := splitInts(cols[2], 7)
		if err != nil {
			return ErrBadTelemetry
		}
		p.count = TxPacketStats{
			FecTimeouts:   p.count.FecTimeouts.add(v[0]),
			Incoming:      p.count.Incoming.add(v[1]),
			IncomingBytes: p.count.IncomingBytes.add(v[2]),
			Injected:      p.count.Injected.add(v[3]),
			InjectedBytes: p.count.InjectedBytes.add(v[4]),
			Dropped:       p.count.Dropped.add(v[5]),
			Truncated:     p.count.Truncated.add(v[6]),
		}

		if p.handler != nil {
			snapshot := make(map[AntennaID][]int64, len(p.ant))
			for k, v := range p.ant {
				snapshot[k] = v
			}
			p.handler.UpdateTxStats(p.txID, p.count, snapshot)
		}
		clear(p.ant)
	}
	return nil
}
