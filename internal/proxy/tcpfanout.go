package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/finchrf/skybridge/internal/logger"
)

// TCPFanout multiplexes MAVLink frames to every connected TCP client.
// Bytes sent by clients are fed back into the proxy's local-ingress path
// so a TCP ground station can also command the vehicle.
type TCPFanout struct {
	Port    int
	Ingress func([]byte)

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Write broadcasts one frame to all clients. Registered as an rx hook on
// the owning MAVLink proxy.
func (f *TCPFanout) Write(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.conns {
		if _, err := conn.Write(frame); err != nil {
			conn.Close()
			delete(f.conns, conn)
		}
	}
}

// ListenAndServe accepts clients until ctx is cancelled.
func (f *TCPFanout) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", f.Port))
	if err != nil {
		return fmt.Errorf("listen mavlink tcp %d: %w", f.Port, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	f.mu.Lock()
	if f.conns == nil {
		f.conns = make(map[net.Conn]struct{})
	}
	f.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				f.closeAll()
				return nil
			}
			return fmt.Errorf("mavlink tcp accept: %w", err)
		}
		logger.Info("mavlink tcp client connected", "remote", conn.RemoteAddr().String())

		f.mu.Lock()
		f.conns[conn] = struct{}{}
		f.mu.Unlock()

		go f.read(conn)
	}
}

func (f *TCPFanout) read(conn net.Conn) {
	defer func() {
		f.mu.Lock()
		delete(f.conns, conn)
		f.mu.Unlock()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if f.Ingress != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			f.Ingress(data)
		}
	}
}

func (f *TCPFanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.conns {
		conn.Close()
		delete(f.conns, conn)
	}
}
