// Package binlog writes the machine-readable stats archive: a gzip stream
// of length-prefixed msgpack frames, one fresh timestamp-named file per
// process run so the framing is never resumed mid-frame.
package binlog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/finchrf/skybridge/internal/logger"
	"github.com/finchrf/skybridge/internal/stats"
)

// flushDelay bounds how long a record may sit in the compressor buffers.
const flushDelay = 10 * time.Second

// Writer is an error-safe binary log. Write failures are logged once and
// the record dropped; the log must never stall the control plane.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	gz     *gzip.Writer
	broken bool
}

// Open creates `<base>.<YYYYMMDD-HHMMSS>` under dir.
func Open(base, dir string) (*Writer, error) {
	name := filepath.Join(dir, base+"."+time.Now().Format("20060102-150405"))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	logger.Info("open binary log", "file", name)
	return &Writer{f: f, gz: gzip.NewWriter(f)}, nil
}

// SendStats appends one framed record. Implements aggregator.Subscriber.
func (w *Writer) SendStats(rec any) {
	payload, err := stats.Encode(rec)
	if err != nil {
		logger.Error("binary log encode failed", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return
	}
	if err := stats.WriteFrame(w.gz, payload); err != nil {
		logger.Error("binary log write failed", "error", err)
		w.broken = true
	}
}

// Run flushes the compressor on a fixed period until ctx is cancelled,
// then closes the file.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-ctx.Done():
			w.Close()
			return nil
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return
	}
	if err := w.gz.Flush(); err != nil {
		logger.Error("binary log flush failed", "error", err)
		w.broken = true
	}
}

// Close flushes and closes the underlying file. Records sent after Close
// are dropped.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.gz.Close(); err != nil && !w.broken {
		logger.Error("binary log close failed", "error", err)
	}
	w.broken = true
	return w.f.Close()
}
