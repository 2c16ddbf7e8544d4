// Package aggregator folds per-antenna receiver stats into a per-NIC view,
// drives TX antenna selection and fans aggregated records out to CLI
// subscribers and the binary log.
package aggregator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/finchrf/skybridge/internal/logger"
	"github.com/finchrf/skybridge/internal/metrics"
	"github.com/finchrf/skybridge/internal/stats"
	"github.com/finchrf/skybridge/internal/telemetry"
)

// Link state flags injected into RADIO_STATUS telemetry.
const (
	LinkLost   = 1
	LinkJammed = 2
)

// Subscriber consumes broadcast stat records. Implementations must not
// block: a slow consumer drops records (or itself), never the control plane.
type Subscriber interface {
	SendStats(rec any)
}

// RssiCB receives the folded link quality for MAVLink RADIO_STATUS
// injection.
type RssiCB func(rxID string, rssi uint8, rxErrors, rxFec uint16, flags uint8)

// Config carries the selection tuning and identity of one profile's
// aggregator.
type Config struct {
	Profile    string
	Wlans      []string
	LinkDomain string
	Version    string

	RssiDelta       int
	CounterRelDelta float64
	CounterAbsDelta int

	MavlinkErrRate bool
	Debug          bool
}

// Aggregator is the per-profile stats hub. All state is guarded by one
// mutex; antenna-selection callbacks fire synchronously inside the update
// that triggered them, before the record is broadcast, so subscribers see
// the post-switch tx_sel.
type Aggregator struct {
	mu  sync.Mutex
	cfg Config

	txSel     int
	antSelCbs []func(int)
	rssiCbs   []RssiCB

	// sessions always contains the binary log (if any) as a sentinel
	// subscriber.
	sessions []Subscriber
	binLog   Subscriber

	rfTemperature map[int]int

	cliTitle string
}

// New creates an aggregator for one profile. When binLog is non-nil it is
// registered as a permanent subscriber and receives the init record.
func New(cfg Config, binLog Subscriber) *Aggregator {
	a := &Aggregator{
		cfg:           cfg,
		binLog:        binLog,
		rfTemperature: map[int]int{},
		cliTitle: fmt.Sprintf("skybridge_%s @%s %s [%s]",
			cfg.Version, cfg.Profile, strings.Join(cfg.Wlans, ", "), cfg.LinkDomain),
	}
	if binLog != nil {
		binLog.SendStats(stats.Init{
			Type:       stats.TypeInit,
			Timestamp:  now(),
			Version:    cfg.Version,
			Profile:    cfg.Profile,
			Wlans:      cfg.Wlans,
			LinkDomain: cfg.LinkDomain,
		})
		a.sessions = append(a.sessions, binLog)
	}
	return a
}

// CliTitle returns the greeting sent to new CLI subscribers.
func (a *Aggregator) CliTitle() string { return a.cliTitle }

// BinLog returns the sentinel log subscriber, nil when logging is disabled.
func (a *Aggregator) BinLog() Subscriber { return a.binLog }

// TxSel returns the currently selected TX NIC index.
func (a *Aggregator) TxSel() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.txSel
}

// Subscribe adds a stat consumer to the broadcast set.
func (a *Aggregator) Subscribe(s Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, s)
	metrics.Subscribers.Set(float64(len(a.sessions)))
}

// Unsubscribe removes a stat consumer.
func (a *Aggregator) Unsubscribe(s Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, cur := range a.sessions {
		if cur == s {
			a.sessions = append(a.sessions[:i], a.sessions[i+1:]...)
			break
		}
	}
	metrics.Subscribers.Set(float64(len(a.sessions)))
}

// AddAntSelCB registers an antenna-selection callback and immediately
// invokes it with the current selection so the service starts wired to a
// live TX path.
func (a *Aggregator) AddAntSelCB(cb func(int)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.antSelCbs = append(a.antSelCbs, cb)
	safeCall(func() { cb(a.txSel) })
}

// AddRssiCB registers an RSSI injection callback.
func (a *Aggregator) AddRssiCB(cb RssiCB) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rssiCbs = append(a.rssiCbs, cb)
}

// SetRFTemperature publishes a fresh antenna→°C map from the thermal probe.
func (a *Aggregator) SetRFTemperature(temp map[int]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rfTemperature = temp
	for ant, c := range temp {
		metrics.RFTemperature.WithLabelValues(fmt.Sprintf("%04x", ant)).Set(float64(c))
	}
}

// ProcessNewSession broadcasts a session change to the binary log.
func (a *Aggregator) ProcessNewSession(rxID string, session telemetry.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.binLog != nil {
		a.binLog.SendStats(stats.NewSession{
			Type:      stats.TypeNewSession,
			Timestamp: now(),
			ID:        rxID,
			Session:   *stats.FromSession(&session),
		})
	}
}

// UpdateRxStats runs the per-update pipeline: fold by frequency, select the
// TX antenna, fan out RSSI for telemetry injection, broadcast the record.
func (a *Aggregator) UpdateRxStats(rxID string, packets telemetry.RxPacketStats, ant map[telemetry.AntKey]telemetry.AntStats, session *telemetry.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	folded := FoldByFreq(ant)

	cardRssi := make([]int64, 0, len(folded))
	for _, s := range folded {
		cardRssi = append(cardRssi, s.RssiAvg)
	}

	if len(folded) > 0 && len(a.antSelCbs) > 0 {
		a.selectTxAntenna(folded)
	}

	if len(a.rssiCbs) > 0 {
		errIdx := 1
		if a.cfg.MavlinkErrRate {
			errIdx = 0
		}

		var flags uint8
		if len(cardRssi) == 0 {
			flags |= LinkLost
		} else if packets.DecErr.Delta+packets.Bad.Delta > 0 {
			flags |= LinkJammed
		}

		rxErrors := saturate16(packets.DecErr.Pick(errIdx) + packets.Bad.Pick(errIdx) + packets.Lost.Pick(errIdx))
		rxFec := saturate16(packets.FecRec.Pick(errIdx))
		mavRssi := uint8(maxOr(cardRssi, -128) % 256)

		for _, cb := range a.rssiCbs {
			cb := cb
			safeCall(func() { cb(rxID, mavRssi, rxErrors, rxFec, flags) })
		}
	}

	if a.cfg.Debug {
		logger.Debug("rx update", "id", rxID, "rssi", cardRssi, "tx_sel", a.txSel,
			"all", packets.All.Delta, "lost", packets.Lost.Delta)
	}

	metrics.ObserveRx(rxID, packets)

	rec := stats.Rx{
		Type:       stats.TypeRx,
		Timestamp:  now(),
		ID:         rxID,
		TxAnt:      a.txSel,
		Packets:    stats.FromRxPackets(packets),
		RxAntStats: antEntries(ant),
		Session:    stats.FromSession(session),
	}
	for _, s := range a.sessions {
		s.SendStats(rec)
	}
}

// UpdateTxStats broadcasts transmitter counters together with the current
// RF temperature map.
func (a *Aggregator) UpdateTxStats(txID string, packets telemetry.TxPacketStats, latency map[telemetry.AntennaID][]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.Debug {
		logger.Debug("tx update", "id", txID,
			"injected", packets.Injected.Delta, "dropped", packets.Dropped.Delta)
	}

	metrics.ObserveTx(txID, packets)

	lat := make(map[int][]int64, len(latency))
	for ant, v := range latency {
		lat[int(ant)] = v
	}
	rec := stats.Tx{
		Type:          stats.TypeTx,
		Timestamp:     now(),
		ID:            txID,
		Packets:       stats.FromTxPackets(packets),
		Latency:       lat,
		RFTemperature: a.rfTemperature,
	}
	for _, s := range a.sessions {
		s.SendStats(rec)
	}
}

// selectTxAntenna applies the hysteresis selection over folded stats.
// Callers hold a.mu.
func (a *Aggregator) selectTxAntenna(folded map[telemetry.AntennaID]telemetry.AntStats) {
	newSel, newRssi, curRssi, ok := SelectTxAntenna(folded, a.txSel, a.cfg.RssiDelta, a.cfg.CounterRelDelta, a.cfg.CounterAbsDelta)
	if !ok {
		return
	}

	logger.Info("switch TX antenna", "from", a.txSel, "to", newSel,
		"rssi_from", curRssi, "rssi_to", newRssi)

	for _, cb := range a.antSelCbs {
		cb := cb
		safeCall(func() { cb(newSel) })
	}
	a.txSel = newSel
	metrics.AntennaSwitches.Inc()
	metrics.TxSelected.Set(float64(newSel))
}

func antEntries(ant map[telemetry.AntKey]telemetry.AntStats) []stats.RxAntEntry {
	out := make([]stats.RxAntEntry, 0, len(ant))
	for k, v := range ant {
		out = append(out, stats.RxAntEntry{
			FreqMHz:   k.Freq.FreqMHz,
			MCS:       k.Freq.MCS,
			Bandwidth: k.Freq.Bandwidth,
			Ant:       int(k.Ant),
			PktCount:  v.PktCount,
			RssiMin:   v.RssiMin, RssiAvg: v.RssiAvg, RssiMax: v.RssiMax,
			SnrMin: v.SnrMin, SnrAvg: v.SnrAvg, SnrMax: v.SnrMax,
		})
	}
	return out
}

// safeCall shields selection from a misbehaving callback: the failure is
// logged and the remaining callbacks still run.
func safeCall(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback failed", "panic", r)
		}
	}()
	f()
}

func saturate16(v int64) uint16 {
	if v > 65535 {
		return 65535
	}
	if v < 0 {
		return 0
	}
	return uint16(v)
}

func maxOr(vs []int64, def int64) int64 {
	if len(vs) == 0 {
		return def
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
