package aggregator

import (
	"github.com/finchrf/skybridge/internal/telemetry"
)

// FoldByFreq merges per-(frequency, antenna) stats into per-antenna stats.
// Packet counts add, min/max fields fold, averages are weighted by packet
// count with integer floor division. Antennas whose folded count is zero
// are dropped.
func FoldByFreq(ant map[telemetry.AntKey]telemetry.AntStats) map[telemetry.AntennaID]telemetry.AntStats {
	type acc struct {
		pkt     int64
		rssiMin int64
		rssiMax int64
		snrMin  int64
		snrMax  int64
		rssiSum int64 // Σ(rssi_avg·pkt)
		snrSum  int64 // Σ(snr_avg·pkt)
	}
	agg := make(map[telemetry.AntennaID]*acc)

	for k, s := range ant {
		a, ok := agg[k.Ant]
		if !ok {
			agg[k.Ant] = &acc{
				pkt:     s.PktCount,
				rssiMin: s.RssiMin, rssiMax: s.RssiMax,
				snrMin: s.SnrMin, snrMax: s.SnrMax,
				rssiSum: s.RssiAvg * s.PktCount,
				snrSum:  s.SnrAvg * s.PktCount,
			}
			continue
		}
		a.pkt += s.PktCount
		a.rssiMin = min(a.rssiMin, s.RssiMin)
		a.rssiMax = max(a.rssiMax, s.RssiMax)
		a.snrMin = min(a.snrMin, s.SnrMin)
		a.snrMax = max(a.snrMax, s.SnrMax)
		a.rssiSum += s.RssiAvg * s.PktCount
		a.snrSum += s.SnrAvg * s.PktCount
	}

	out := make(map[telemetry.AntennaID]telemetry.AntStats, len(agg))
	for id, a := range agg {
		if a.pkt == 0 {
			continue
		}
		out[id] = telemetry.AntStats{
			PktCount: a.pkt,
			RssiMin:  a.rssiMin,
			RssiAvg:  floorDiv(a.rssiSum, a.pkt),
			RssiMax:  a.rssiMax,
			SnrMin:   a.snrMin,
			SnrAvg:   floorDiv(a.snrSum, a.pkt),
			SnrMax:   a.snrMax,
		}
	}
	return out
}

// SelectTxAntenna picks the NIC to transmit on.
//
// Folded antennas are grouped by NIC; per NIC the best average RSSI and the
// best packet counter across its antennas are taken. Only NICs whose
// counter is within max(absDelta, maxPkts·relDelta) of the best counter are
// candidates. Among candidates the highest RSSI wins, ties broken by the
// higher NIC index. The current selection is kept while it remains a
// candidate and no alternative beats its RSSI by at least rssiDelta.
//
// Returns ok=false when the selection must not change.
func SelectTxAntenna(folded map[telemetry.AntennaID]telemetry.AntStats, txSel, rssiDelta int, relDelta float64, absDelta int) (newSel int, newRssi, curRssi int64, ok bool) {
	type nicStat struct {
		rssi int64
		pkts int64
	}
	perNic := make(map[int]*nicStat)
	var maxPkts int64

	for id, s := range folded {
		idx := id.WlanIdx()
		n, seen := perNic[idx]
		if !seen {
			n = &nicStat{rssi: s.RssiAvg, pkts: s.PktCount}
			perNic[idx] = n
		} else {
			n.rssi = max(n.rssi, s.RssiAvg)
			n.pkts = max(n.pkts, s.PktCount)
		}
		maxPkts = max(maxPkts, n.pkts)
	}

	if len(perNic) == 0 {
		return 0, 0, 0, false
	}

	// Only NICs with near-maximum RX packet counters may transmit.
	thr := float64(maxPkts) - max(float64(absDelta), float64(maxPkts)*relDelta)
	candidates := make(map[int]bool)
	for idx, n := range perNic {
		if float64(n.pkts) >= thr {
			candidates[idx] = true
		}
	}
	if len(candidates) == 0 {
		return 0, 0, 0, false
	}

	newSel = -1
	for idx := range candidates {
		n := perNic[idx]
		if newSel == -1 || n.rssi > newRssi || (n.rssi == newRssi && idx > newSel) {
			newSel = idx
			newRssi = n.rssi
		}
	}

	curRssi = int64(-1000)
	if n, seen := perNic[txSel]; seen {
		curRssi = n.rssi
	}

	if newSel == txSel {
		return 0, 0, 0, false
	}
	if candidates[txSel] && newRssi-curRssi < int64(rssiDelta) {
		// The current NIC still has a near-maximum counter and nobody
		// clears the hysteresis band.
		return 0, 0, 0, false
	}
	return newSel, newRssi, curRssi, true
}

// floorDiv is integer division rounding toward negative infinity, matching
// the folding law for negative dBm averages.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
