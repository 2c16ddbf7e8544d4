package aggregator

import (
	"testing"

	"github.com/finchrf/skybridge/internal/stats"
	"github.com/finchrf/skybridge/internal/telemetry"
)

type recCapture struct {
	recs []any
}

func (c *recCapture) SendStats(rec any) {
	c.recs = append(c.recs, rec)
}

func testConfig() Config {
	return Config{
		Profile:         "gs",
		Wlans:           []string{"wlan0", "wlan1"},
		LinkDomain:      "default",
		Version:         "1.0",
		RssiDelta:       3,
		CounterRelDelta: 0.1,
		CounterAbsDelta: 50,
	}
}

type rssiCall struct {
	rssi     uint8
	rxErrors uint16
	rxFec    uint16
	flags    uint8
}

func TestLinkLostAndJammedFlags(t *testing.T) {
	a := New(testConfig(), nil)

	var calls []rssiCall
	a.AddRssiCB(func(rxID string, rssi uint8, rxErrors, rxFec uint16, flags uint8) {
		calls = append(calls, rssiCall{rssi, rxErrors, rxFec, flags})
	})

	// Empty antenna stats: the link is lost and rssi reports -128.
	packets := telemetry.RxPacketStats{
		DecErr: telemetry.Counter{Delta: 5, Total: 5},
	}
	a.UpdateRxStats("video rx", packets, nil, nil)

	if len(calls) != 1 {
		t.Fatalf("rssi calls = %d, want 1", len(calls))
	}
	if calls[0].flags != LinkLost {
		t.Errorf("flags = %d, want LINK_LOST", calls[0].flags)
	}
	if calls[0].rssi != 128 {
		t.Errorf("rssi = %d, want 128 (-128 mod 256)", calls[0].rssi)
	}

	// Non-empty stats with decode errors: jammed.
	ant := map[telemetry.AntKey]telemetry.AntStats{
		antKey(5805, 0x000): {PktCount: 10, RssiAvg: -60},
	}
	packets = telemetry.RxPacketStats{
		DecErr: telemetry.Counter{Delta: 5, Total: 10},
		Bad:    telemetry.Counter{Delta: 2, Total: 2},
	}
	a.UpdateRxStats("video rx", packets, ant, nil)

	if calls[1].flags != LinkJammed {
		t.Errorf("flags = %d, want LINK_JAMMED", calls[1].flags)
	}
	var want60 int8 = -60
	if calls[1].rssi != uint8(want60) {
		t.Errorf("rssi = %d, want %d", calls[1].rssi, uint8(want60))
	}
}

func TestRssiSaturation(t *testing.T) {
	cfg := testConfig()
	cfg.MavlinkErrRate = true // report deltas
	a := New(cfg, nil)

	var got rssiCall
	a.AddRssiCB(func(rxID string, rssi uint8, rxErrors, rxFec uint16, flags uint8) {
		got = rssiCall{rssi, rxErrors, rxFec, flags}
	})

	packets := telemetry.RxPacketStats{
		DecErr: telemetry.Counter{Delta: 100000},
		Bad:    telemetry.Counter{Delta: 100000},
		Lost:   telemetry.Counter{Delta: 100000},
		FecRec: telemetry.Counter{Delta: 70000},
	}
	a.UpdateRxStats("video rx", packets, nil, nil)

	if got.rxErrors != 65535 {
		t.Errorf("rxErrors = %d, want 65535", got.rxErrors)
	}
	if got.rxFec != 65535 {
		t.Errorf("rxFec = %d, want 65535", got.rxFec)
	}
}

func TestBroadcastCarriesPostSwitchTxAnt(t *testing.T) {
	a := New(testConfig(), nil)
	sub := &recCapture{}
	a.Subscribe(sub)

	// A callback must exist for selection to run; it also observes the
	// switch order.
	var cbValues []int
	a.AddAntSelCB(func(idx int) { cbValues = append(cbValues, idx) })

	ant := map[telemetry.AntKey]telemetry.AntStats{
		antKey(5805, 0x000): {PktCount: 1000, RssiAvg: -60},
		antKey(5805, 0x100): {PktCount: 1000, RssiAvg: -55},
	}
	a.UpdateRxStats("video rx", telemetry.RxPacketStats{}, ant, nil)

	// Registration fires once with 0, the switch once with 1.
	if len(cbValues) != 2 || cbValues[0] != 0 || cbValues[1] != 1 {
		t.Fatalf("cb values = %v, want [0 1]", cbValues)
	}

	if len(sub.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(sub.recs))
	}
	rx, ok := sub.recs[0].(stats.Rx)
	if !ok {
		t.Fatalf("record type = %T, want stats.Rx", sub.recs[0])
	}
	if rx.TxAnt != 1 {
		t.Errorf("broadcast tx_ant = %d, want post-switch 1", rx.TxAnt)
	}
	if a.TxSel() != 1 {
		t.Errorf("TxSel = %d, want 1", a.TxSel())
	}
}

func TestHysteresisKeepsSelection(t *testing.T) {
	a := New(testConfig(), nil)
	a.AddAntSelCB(func(int) {})

	update := func(rssi1 int64) {
		ant := map[telemetry.AntKey]telemetry.AntStats{
			antKey(5805, 0x000): {PktCount: 1000, RssiAvg: -60},
			antKey(5805, 0x100): {PktCount: 1000, RssiAvg: rssi1},
		}
		a.UpdateRxStats("video rx", telemetry.RxPacketStats{}, ant, nil)
	}

	update(-58) // Δ=2 < 3: hold
	if a.TxSel() != 0 {
		t.Fatalf("TxSel = %d after in-band update, want 0", a.TxSel())
	}
	update(-55) // Δ=5 ≥ 3: switch
	if a.TxSel() != 1 {
		t.Errorf("TxSel = %d after out-of-band update, want 1", a.TxSel())
	}
}

func TestCallbackPanicIsSwallowed(t *testing.T) {
	a := New(testConfig(), nil)

	a.AddAntSelCB(func(idx int) {
		if idx == 1 {
			panic("subscriber bug")
		}
	})
	var seen []int
	a.AddAntSelCB(func(idx int) { seen = append(seen, idx) })

	ant := map[telemetry.AntKey]telemetry.AntStats{
		antKey(5805, 0x000): {PktCount: 1000, RssiAvg: -60},
		antKey(5805, 0x100): {PktCount: 1000, RssiAvg: -50},
	}
	a.UpdateRxStats("video rx", telemetry.RxPacketStats{}, ant, nil)

	// The panicking callback did not break the other one, and the
	// selection still advanced (best-effort callbacks).
	if len(seen) != 2 || seen[1] != 1 {
		t.Errorf("second callback saw %v, want [0 1]", seen)
	}
	if a.TxSel() != 1 {
		t.Errorf("TxSel = %d, want 1", a.TxSel())
	}
}

func TestTxUpdateCarriesTemperature(t *testing.T) {
	a := New(testConfig(), nil)
	sub := &recCapture{}
	a.Subscribe(sub)

	a.SetRFTemperature(map[int]int{0x000: 48, 0x001: 51})
	a.UpdateTxStats("video tx", telemetry.TxPacketStats{
		Injected: telemetry.Counter{Delta: 10, Total: 10},
	}, map[telemetry.AntennaID][]int64{0x001: {5, 9}})

	if len(sub.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(sub.recs))
	}
	tx := sub.recs[0].(stats.Tx)
	if tx.RFTemperature[0x001] != 51 {
		t.Errorf("rf_temperature = %v", tx.RFTemperature)
	}
	if tx.Packets.Injected != (stats.Counter{10, 10}) {
		t.Errorf("injected = %v", tx.Packets.Injected)
	}
	if len(tx.Latency[1]) != 2 {
		t.Errorf("latency = %v", tx.Latency)
	}
}

func TestFoldPreservesPacketSum(t *testing.T) {
	// Invariant: Σ folded pkt = Σ source pkt.
	ant := map[telemetry.AntKey]telemetry.AntStats{
		antKey(5805, 0x000): {PktCount: 100, RssiAvg: -70},
		antKey(5825, 0x000): {PktCount: 200, RssiAvg: -65},
		antKey(5805, 0x100): {PktCount: 300, RssiAvg: -60},
	}
	var want int64
	for _, s := range ant {
		want += s.PktCount
	}
	var got int64
	for _, s := range FoldByFreq(ant) {
		got += s.PktCount
	}
	if got != want {
		t.Errorf("folded packet sum = %d, want %d", got, want)
	}
}
