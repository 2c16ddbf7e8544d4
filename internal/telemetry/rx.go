package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/finchrf/skybridge/internal/logger"
)

// ErrBadTelemetry reports a malformed worker record. It is logged by the
// parsers and never propagated; parsing continues with the next line.
var ErrBadTelemetry = fmt.Errorf("bad telemetry")

// RxHandler receives parsed receiver telemetry. UpdateRxStats is called on
// every PKT record with the counters, a snapshot of the per-window antenna
// map, and the current session (nil before the first SESSION record).
type RxHandler interface {
	UpdateRxStats(rxID string, packets RxPacketStats, ant map[AntKey]AntStats, session *Session)
	ProcessNewSession(rxID string, session Session)
}

// RxParser consumes wfb_rx stdout telemetry, one line per call.
//
// Records are tab-separated; field 0 is a worker timestamp (ignored here),
// field 1 the command. A PKT record closes the reporting window: counters
// are folded into running totals, the antenna map snapshot is published and
// the map is cleared.
type RxParser struct {
	handler RxHandler
	rxID    string

	ant     map[AntKey]AntStats
	count   RxPacketStats
	session *Session
}

func NewRxParser(handler RxHandler, rxID string) *RxParser {
	return &RxParser{
		handler: handler,
		rxID:    rxID,
		ant:     make(map[AntKey]AntStats),
	}
}

// Line parses one telemetry record. Malformed records are logged and
// dropped.
func (p *RxParser) Line(line string) {
	if err := p.parse(strings.TrimSpace(line)); err != nil {
		logger.Error("bad telemetry", "worker", p.rxID, "line", line)
	}
}

func (p *RxParser) parse(line string) error {
	cols := strings.Split(line, "\t")
	if len(cols) < 2 {
		return ErrBadTelemetry
	}

	switch cols[1] {
	case "RX_ANT":
		if len(cols) != 5 {
			return ErrBadTelemetry
		}
		freq, err := splitInts(cols[2], 3)
		if err != nil {
			return ErrBadTelemetry
		}
		antID, err := strconv.ParseUint(cols[3], 16, 16)
		if err != nil {
			return ErrBadTelemetry
		}
		v, err := splitInts(cols[4], 7)
		if err != nil {
			return ErrBadTelemetry
		}
		key := AntKey{
			Freq: FreqKey{FreqMHz: int(freq[0]), MCS: int(freq[1]), Bandwidth: int(freq[2])},
			Ant:  AntennaID(antID),
		}
		p.ant[key] = AntStats{
			PktCount: v[0],
			RssiMin:  v[1], RssiAvg: v[2], RssiMax: v[3],
			SnrMin: v[4], SnrAvg: v[5], SnrMax: v[6],
		}

	case "PKT":
		if len(cols) != 3 {
			return ErrBadTelemetry
		}
		v, err := splitInts(cols[2], 9)
		if err != nil {
			return ErrBadTelemetry
		}
		// Wire order: all, all_bytes, dec_err, dec_ok, fec_rec, lost, bad, out, out_bytes.
		p.count = RxPacketStats{
			All:      p.count.All.add(v[0]),
			AllBytes: p.count.AllBytes.add(v[1]),
			DecErr:   p.count.DecErr.add(v[2]),
			DecOK:    p.count.DecOK.add(v[3]),
			FecRec:   p.count.FecRec.add(v[4]),
			Lost:     p.count.Lost.add(v[5]),
			Bad:      p.count.Bad.add(v[6]),
			Out:      p.count.Out.add(v[7]),
			OutBytes: p.count.OutBytes.add(v[8]),
		}

		if p.handler != nil {
			snapshot := make(map[AntKey]AntStats, len(p.ant))
			for k, v := range p.ant {
				snapshot[k] = v
			}
			p.handler.UpdateRxStats(p.rxID, p.count, snapshot, p.session)
		}
		clear(p.ant)

	case "SESSION":
		if len(cols) != 3 {
			return ErrBadTelemetry
		}
		v, err := splitInts(cols[2], 4)
		if err != nil {
			return ErrBadTelemetry
		}
		s := Session{
			Epoch:   uint32(v[0]),
			FecType: fecTypeName(v[1]),
			FecK:    uint8(v[2]),
			FecN:    uint8(v[3]),
		}
		p.session = &s
		logger.Info("new session detected", "worker", p.rxID,
			"fec", s.FecType, "k", s.FecK, "n", s.FecN, "epoch", s.Epoch)
		if p.handler != nil {
			p.handler.ProcessNewSession(p.rxID, s)
		}

	default:
		return ErrBadTelemetry
	}
	return nil
}

// splitInts parses a colon-separated list of exactly n decimal integers.
func splitInts(s string, n int) ([]int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != n {
		return nil, ErrBadTelemetry
	}
	out := make([]int64, n)
	for i, part := range parts {
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, ErrBadTelemetry
		}
		out[i] = v
	}
	return out, nil
}
