package binlog

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/finchrf/skybridge/internal/stats"
)

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open("gs.log", dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	w.SendStats(stats.Init{Type: stats.TypeInit, Version: "1.0", Profile: "gs",
		Wlans: []string{"wlan0"}, LinkDomain: "default"})
	w.SendStats(stats.CliTitle{Type: stats.TypeCliTitle, CliTitle: "title"})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "gs.log.*"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("log files = %v (%v), want exactly one", matches, err)
	}
	base := filepath.Base(matches[0])
	if !strings.HasPrefix(base, "gs.log.") || len(base) != len("gs.log.20060102-150405") {
		t.Errorf("log name = %q, want gs.log.<YYYYMMDD-HHMMSS>", base)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}

	payload, err := stats.ReadFrame(gz)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	var init stats.Init
	if err := stats.Decode(payload, &init); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if init.Type != stats.TypeInit || init.Profile != "gs" {
		t.Errorf("init = %+v", init)
	}

	payload, err = stats.ReadFrame(gz)
	if err != nil {
		t.Fatalf("ReadFrame 2: %v", err)
	}
	var title stats.CliTitle
	if err := stats.Decode(payload, &title); err != nil {
		t.Fatalf("Decode 2: %v", err)
	}
	if title.CliTitle != "title" {
		t.Errorf("title = %+v", title)
	}

	if _, err := stats.ReadFrame(gz); err != io.EOF && err != io.ErrUnexpectedEOF {
		t.Errorf("trailing read = %v, want EOF", err)
	}
}

func TestWriterSwallowsErrorsAfterClose(t *testing.T) {
	dir := t.TempDir()
	w, err := Open("gs.log", dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.Close()

	// Writes after Close are dropped silently; the control plane
	// never sees them.
	w.SendStats(stats.CliTitle{Type: stats.TypeCliTitle, CliTitle: "late"})
}
