package telemetry

// AntennaID packs a NIC ordinal and a driver RF path into the 16-bit
// identifier used on the wire: (wlan_idx << 8) | rf_path.
type AntennaID uint16

func MakeAntennaID(wlanIdx, rfPath int) AntennaID {
	return AntennaID(wlanIdx<<8 | (rfPath & 0xff))
}

// WlanIdx returns the NIC ordinal the antenna belongs to.
func (a AntennaID) WlanIdx() int { return int(a >> 8) }

// RFPath returns the driver-reported RF chain index on that NIC.
func (a AntennaID) RFPath() int { return int(a & 0xff) }

// FreqKey deduplicates RX reports prior to folding. After folding, stats
// are keyed by antenna alone.
type FreqKey struct {
	FreqMHz   int
	MCS       int
	Bandwidth int
}

// AntKey addresses one antenna on one frequency within a reporting window.
type AntKey struct {
	Freq FreqKey
	Ant  AntennaID
}

// AntStats is the per-window signal summary for one (freq, ant) pair.
// All values are integer dBm/dB; averages are arithmetic means over the
// reporting window.
type AntStats struct {
	PktCount int64
	RssiMin  int64
	RssiAvg  int64
	RssiMax  int64
	SnrMin   int64
	SnrAvg   int64
	SnrMax   int64
}

// Counter carries the per-window delta and the running total of one
// packet counter. Total is monotonic for the life of the parser.
type Counter struct {
	Delta int64
	Total int64
}

func (c Counter) add(d int64) Counter {
	return Counter{Delta: d, Total: c.Total + d}
}

// Pick returns Delta for index 0 and Total for index 1, matching the
// instantaneous-vs-cumulative column selection of the RSSI fan-out.
func (c Counter) Pick(idx int) int64 {
	if idx == 0 {
		return c.Delta
	}
	return c.Total
}

// RxPacketStats are the receiver-side packet counters.
type RxPacketStats struct {
	All      Counter
	AllBytes Counter
	DecOK    Counter
	FecRec   Counter
	Lost     Counter
	DecErr   Counter
	Bad      Counter
	Out      Counter
	OutBytes Counter
}

// TxPacketStats are the transmitter-side packet counters.
type TxPacketStats struct {
	FecTimeouts   Counter
	Incoming      Counter
	IncomingBytes Counter
	Injected      Counter
	InjectedBytes Counter
	Dropped       Counter
	Truncated     Counter
}

// FEC type codes advertised in SESSION records.
const fecTypeVDMRS = 1

func fecTypeName(code int64) string {
	if code == fecTypeVDMRS {
		return "VDM_RS"
	}
	return "Unknown"
}

// Session describes the receiver's current FEC epoch. A new SESSION record
// replaces it wholesale.
type Session struct {
	Epoch   uint32
	FecType string
	FecK    uint8
	FecN    uint8
}
