package statserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/finchrf/skybridge/internal/aggregator"
	"github.com/finchrf/skybridge/internal/stats"
	"github.com/finchrf/skybridge/internal/telemetry"
)

func startServer(t *testing.T) (*aggregator.Aggregator, net.Addr, context.CancelFunc) {
	t.Helper()
	agg := aggregator.New(aggregator.Config{
		Profile: "gs", Wlans: []string{"wlan0"}, LinkDomain: "default", Version: "1.0",
	}, nil)

	srv := &Server{Port: 0, Agg: agg}
	if err := srv.listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.ListenAndServe(ctx)
	return agg, srv.ln.Addr(), cancel
}

func TestSubscriberGetsTitleThenRecords(t *testing.T) {
	agg, addr, cancel := startServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// First frame is always the cli_title greeting.
	payload, err := stats.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	var title stats.CliTitle
	if err := stats.Decode(payload, &title); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if title.Type != stats.TypeCliTitle || title.CliTitle != agg.CliTitle() {
		t.Errorf("title = %+v", title)
	}

	// Give the server a moment to register the subscriber, then publish.
	deadline := time.Now().Add(5 * time.Second)
	for {
		agg.UpdateRxStats("video rx", telemetry.RxPacketStats{
			All: telemetry.Counter{Delta: 10, Total: 10},
		}, nil, nil)

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		payload, err = stats.ReadFrame(conn)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no rx record: %v", err)
		}
	}

	var rx stats.Rx
	if err := stats.Decode(payload, &rx); err != nil {
		t.Fatalf("Decode rx: %v", err)
	}
	if rx.Type != stats.TypeRx || rx.ID != "video rx" {
		t.Errorf("rx = %+v", rx)
	}
	if rx.Packets.All != (stats.Counter{10, 10}) {
		t.Errorf("packets = %+v", rx.Packets)
	}
}

func TestDisconnectLeavesBroadcastSet(t *testing.T) {
	agg, addr, cancel := startServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := stats.ReadFrame(conn); err != nil {
		t.Fatalf("greeting: %v", err)
	}
	conn.Close()

	// Publishing after a disconnect must not wedge the aggregator.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			agg.UpdateTxStats("video tx", telemetry.TxPacketStats{}, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("aggregator stalled after subscriber disconnect")
	}
}
