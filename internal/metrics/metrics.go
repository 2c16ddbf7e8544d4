// Package metrics exposes supervisor counters on an optional Prometheus
// endpoint. The msgpack stats fan-out remains the canonical interface; this
// is an additive scrape surface for fleet monitoring.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finchrf/skybridge/internal/telemetry"
)

var (
	RxPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skybridge_rx_packets_total",
		Help: "Receiver packet counters by stream and class.",
	}, []string{"id", "class"})

	TxPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skybridge_tx_packets_total",
		Help: "Transmitter packet counters by stream and class.",
	}, []string{"id", "class"})

	AntennaSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skybridge_antenna_switches_total",
		Help: "Number of TX antenna switches.",
	})

	TxSelected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skybridge_tx_selected",
		Help: "Currently selected TX NIC index.",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skybridge_stat_subscribers",
		Help: "Connected stat subscribers, including the binary log.",
	})

	WorkerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skybridge_worker_exits_total",
		Help: "Worker process exits by worker id.",
	}, []string{"id"})

	RFTemperature = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skybridge_rf_temperature_celsius",
		Help: "RF module temperature by antenna id.",
	}, []string{"ant"})
)

// ObserveRx feeds the delta columns of an RX update into the counters.
func ObserveRx(id string, p telemetry.RxPacketStats) {
	add := func(class string, c telemetry.Counter) {
		if c.Delta > 0 {
			RxPackets.WithLabelValues(id, class).Add(float64(c.Delta))
		}
	}
	add("all", p.All)
	add("dec_ok", p.DecOK)
	add("fec_rec", p.FecRec)
	add("lost", p.Lost)
	add("dec_err", p.DecErr)
	add("bad", p.Bad)
	add("out", p.Out)
}

// ObserveTx feeds the delta columns of a TX update into the counters.
func ObserveTx(id string, p telemetry.TxPacketStats) {
	add := func(class string, c telemetry.Counter) {
		if c.Delta > 0 {
			TxPackets.WithLabelValues(id, class).Add(float64(c.Delta))
		}
	}
	add("incoming", p.Incoming)
	add("injected", p.Injected)
	add("dropped", p.Dropped)
	add("truncated", p.Truncated)
	add("fec_timeouts", p.FecTimeouts)
}

// Serve exposes /metrics on the given port until ctx is cancelled.
func Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
