// Package statserver fans aggregated stat records out to interactive CLI
// subscribers over a length-prefixed TCP protocol.
package statserver

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"

	"github.com/finchrf/skybridge/internal/aggregator"
	"github.com/finchrf/skybridge/internal/logger"
	"github.com/finchrf/skybridge/internal/stats"
)

// sendBuffer is how many undelivered frames a subscriber may accumulate
// before it is considered too slow and dropped.
const sendBuffer = 256

// Server is one profile's stats listener.
type Server struct {
	Port int
	Agg  *aggregator.Aggregator

	ln net.Listener
}

// listen binds the TCP socket. Separate from the accept loop so the bound
// address is observable before serving starts.
func (s *Server) listen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return fmt.Errorf("listen stats port %d: %w", s.Port, err)
	}
	s.ln = ln
	return nil
}

// ListenAndServe accepts subscribers until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.ln == nil {
		if err := s.listen(); err != nil {
			return err
		}
	}
	ln := s.ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.serve(ctx, conn)
	}
}

// session is one connected subscriber. SendStats never blocks: frames are
// queued on a bounded channel and an overflow closes the session (slow
// consumers must not stall telemetry ingestion).
type session struct {
	id   string
	ch   chan []byte
	stop context.CancelFunc
}

// SendStats implements aggregator.Subscriber.
func (c *session) SendStats(rec any) {
	frame, err := stats.EncodeFrame(rec)
	if err != nil {
		logger.Error("stat encode failed", "session", c.id, "error", err)
		return
	}
	select {
	case c.ch <- frame:
	default:
		logger.Warn("dropping slow stat subscriber", "session", c.id)
		c.stop()
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &session{
		id:   uuid.NewString(),
		ch:   make(chan []byte, sendBuffer),
		stop: cancel,
	}
	logger.Info("stat subscriber connected", "session", sess.id, "remote", conn.RemoteAddr().String())

	greeting, err := stats.EncodeFrame(stats.CliTitle{Type: stats.TypeCliTitle, CliTitle: s.Agg.CliTitle()})
	if err != nil {
		logger.Error("cli_title encode failed", "error", err)
		return
	}
	if _, err := conn.Write(greeting); err != nil {
		return
	}

	s.Agg.Subscribe(sess)
	defer func() {
		s.Agg.Unsubscribe(sess)
		logger.Info("stat subscriber disconnected", "session", sess.id)
	}()

	// Incoming bytes are discarded; the read side only detects disconnect.
	go func() {
		defer cancel()
		io.Copy(io.Discard, conn)
	}()

	for {
		select {
		case frame := <-sess.ch:
			if _, err := conn.Write(frame); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
