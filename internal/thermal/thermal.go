// Package thermal polls driver thermal sysfs nodes for RF module
// temperatures.
package thermal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/finchrf/skybridge/internal/logger"
	"github.com/finchrf/skybridge/internal/telemetry"
)

// DefaultPathPattern is the vendor-specific thermal node, one per NIC.
const DefaultPathPattern = "/proc/net/rtl88x2eu/%s/thermal_state"

// Probe periodically reads per-NIC thermal state and reports an
// antenna→°C map. Missing files are tolerated silently (other vendors);
// parse errors are logged and skipped.
type Probe struct {
	Wlans       []string
	Interval    time.Duration
	PathPattern string // defaults to DefaultPathPattern
	Report      func(map[int]int)
}

// Run probes immediately, then on every tick until ctx is cancelled. The
// file I/O runs on this goroutine, off the control path; only the finished
// map crosses into Report.
func (p *Probe) Run(ctx context.Context) error {
	pattern := p.PathPattern
	if pattern == "" {
		pattern = DefaultPathPattern
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		p.Report(p.readAll(pattern))
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Probe) readAll(pattern string) map[int]int {
	res := make(map[int]int)
	for idx, wlan := range p.Wlans {
		fname := fmt.Sprintf(pattern, wlan)
		if err := readInto(fname, idx, res); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			logger.Error("unable to parse thermal state", "file", fname, "error", err)
		}
	}
	return res
}

// readInto parses one thermal_state file. Each non-empty line is a
// comma-separated list of key:value pairs; rf_path and temperature are
// required decimal integers.
func readInto(fname string, wlanIdx int, res map[int]int) error {
	f, err := os.Open(fname)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := make(map[string]int)
		for _, kv := range strings.Split(line, ",") {
			k, v, ok := strings.Cut(kv, ":")
			if !ok {
				return fmt.Errorf("malformed field %q", kv)
			}
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("field %q: %w", kv, err)
			}
			fields[strings.TrimSpace(k)] = n
		}
		rfPath, ok := fields["rf_path"]
		if !ok {
			return fmt.Errorf("missing rf_path in %q", line)
		}
		temp, ok := fields["temperature"]
		if !ok {
			return fmt.Errorf("missing temperature in %q", line)
		}
		res[int(telemetry.MakeAntennaID(wlanIdx, rfPath))] = temp
	}
	return scanner.Err()
}
