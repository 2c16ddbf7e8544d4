// Package stats defines the records broadcast to CLI subscribers and the
// binary log, and their framed MessagePack encoding.
package stats

import (
	"github.com/finchrf/skybridge/internal/telemetry"
)

// Record types carried in the "type" field of every frame.
const (
	TypeInit       = "init"
	TypeCliTitle   = "cli_title"
	TypeRx         = "rx"
	TypeTx         = "tx"
	TypeNewSession = "new_session"
	TypeMavlink    = "mavlink"
)

// Counter mirrors telemetry.Counter on the wire as a (delta, total) pair.
type Counter [2]int64

func FromCounter(c telemetry.Counter) Counter {
	return Counter{c.Delta, c.Total}
}

// RxPackets is the wire form of the receiver packet counters.
type RxPackets struct {
	All      Counter `msgpack:"all"`
	AllBytes Counter `msgpack:"all_bytes"`
	DecOK    Counter `msgpack:"dec_ok"`
	FecRec   Counter `msgpack:"fec_rec"`
	Lost     Counter `msgpack:"lost"`
	DecErr   Counter `msgpack:"dec_err"`
	Bad      Counter `msgpack:"bad"`
	Out      Counter `msgpack:"out"`
	OutBytes Counter `msgpack:"out_bytes"`
}

func FromRxPackets(p telemetry.RxPacketStats) RxPackets {
	return RxPackets{
		All:      FromCounter(p.All),
		AllBytes: FromCounter(p.AllBytes),
		DecOK:    FromCounter(p.DecOK),
		FecRec:   FromCounter(p.FecRec),
		Lost:     FromCounter(p.Lost),
		DecErr:   FromCounter(p.DecErr),
		Bad:      FromCounter(p.Bad),
		Out:      FromCounter(p.Out),
		OutBytes: FromCounter(p.OutBytes),
	}
}

// TxPackets is the wire form of the transmitter packet counters.
type TxPackets struct {
	FecTimeouts   Counter `msgpack:"fec_timeouts"`
	Incoming      Counter `msgpack:"incoming"`
	IncomingBytes Counter `msgpack:"incoming_bytes"`
	Injected      Counter `msgpack:"injected"`
	InjectedBytes Counter `msgpack:"injected_bytes"`
	Dropped       Counter `msgpack:"dropped"`
	Truncated     Counter `msgpack:"truncated"`
}

func FromTxPackets(p telemetry.TxPacketStats) TxPackets {
	return TxPackets{
		FecTimeouts:   FromCounter(p.FecTimeouts),
		Incoming:      FromCounter(p.Incoming),
		IncomingBytes: FromCounter(p.IncomingBytes),
		Injected:      FromCounter(p.Injected),
		InjectedBytes: FromCounter(p.InjectedBytes),
		Dropped:       FromCounter(p.Dropped),
		Truncated:     FromCounter(p.Truncated),
	}
}

// RxAntEntry is one (frequency, antenna) report within an RX record.
type RxAntEntry struct {
	FreqMHz   int   `msgpack:"freq"`
	MCS       int   `msgpack:"mcs"`
	Bandwidth int   `msgpack:"bw"`
	Ant       int   `msgpack:"ant"`
	PktCount  int64 `msgpack:"pkt"`
	RssiMin   int64 `msgpack:"rssi_min"`
	RssiAvg   int64 `msgpack:"rssi_avg"`
	RssiMax   int64 `msgpack:"rssi_max"`
	SnrMin    int64 `msgpack:"snr_min"`
	SnrAvg    int64 `msgpack:"snr_avg"`
	SnrMax    int64 `msgpack:"snr_max"`
}

// Session is the wire form of the receiver session.
type Session struct {
	Epoch   uint32 `msgpack:"epoch"`
	FecType string `msgpack:"fec_type"`
	FecK    uint8  `msgpack:"fec_k"`
	FecN    uint8  `msgpack:"fec_n"`
}

func FromSession(s *telemetry.Session) *Session {
	if s == nil {
		return nil
	}
	return &Session{Epoch: s.Epoch, FecType: s.FecType, FecK: s.FecK, FecN: s.FecN}
}

// Init opens the binary log for a profile.
type Init struct {
	Type       string   `msgpack:"type"`
	Timestamp  float64  `msgpack:"timestamp"`
	Version    string   `msgpack:"version"`
	Profile    string   `msgpack:"profile"`
	Wlans      []string `msgpack:"wlans"`
	LinkDomain string   `msgpack:"link_domain"`
}

// CliTitle is the first frame sent to every new CLI subscriber.
type CliTitle struct {
	Type     string `msgpack:"type"`
	CliTitle string `msgpack:"cli_title"`
}

// Rx is broadcast on every receiver PKT record.
type Rx struct {
	Type       string       `msgpack:"type"`
	Timestamp  float64      `msgpack:"timestamp"`
	ID         string       `msgpack:"id"`
	TxAnt      int          `msgpack:"tx_ant"`
	Packets    RxPackets    `msgpack:"packets"`
	RxAntStats []RxAntEntry `msgpack:"rx_ant_stats"`
	Session    *Session     `msgpack:"session"`
}

// Tx is broadcast on every transmitter PKT record.
type Tx struct {
	Type          string          `msgpack:"type"`
	Timestamp     float64         `msgpack:"timestamp"`
	ID            string          `msgpack:"id"`
	Packets       TxPackets       `msgpack:"packets"`
	Latency       map[int][]int64 `msgpack:"latency"`
	RFTemperature map[int]int     `msgpack:"rf_temperature"`
}

// NewSession is broadcast when the receiver announces a new FEC epoch.
type NewSession struct {
	Type      string  `msgpack:"type"`
	Timestamp float64 `msgpack:"timestamp"`
	ID        string  `msgpack:"id"`
	Session
}

// Mavlink is one logged MAVLink frame (log_messages services).
type Mavlink struct {
	Type      string  `msgpack:"type"`
	Timestamp float64 `msgpack:"timestamp"`
	ID        string  `msgpack:"id"`
	Data      []byte  `msgpack:"data"`
}
