package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuepilot/cuepilot/internal/bus"
)

func TestOpenRotatesCurrentLog(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, currentLogName), []byte("old run\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	archived := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "log_") && strings.HasSuffix(e.Name(), ".txt") {
			archived++
		}
	}
	if archived != 1 {
		t.Errorf("expected one archived log, found %d", archived)
	}

	// The fresh current log is empty.
	data, err := os.ReadFile(filepath.Join(dir, currentLogName))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("current log not fresh: %q", data)
	}
}

func TestOpenWithoutPreviousLog(t *testing.T) {
	sink, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
}

func TestDrainWritesQueueItems(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	b.Log(bus.LogItem{
		Subsystem: bus.LogProcessor,
		Level:     bus.LevelError,
		Code:      bus.CodeSourceError,
		Arg1:      2,
	})
	b.Log(bus.LogItem{Subsystem: bus.LogNetwork, Text: "subscriber joined"})

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Drain(ctx, b, sink, logger)
		close(done)
	}()

	time.Sleep(3 * drainInterval)
	cancel()
	<-done
	sink.Close()

	data, err := os.ReadFile(filepath.Join(dir, currentLogName))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "audio source failed") {
		t.Errorf("coded item not expanded in log: %q", text)
	}
	if !strings.Contains(text, "subscriber joined") {
		t.Errorf("text item missing from log: %q", text)
	}
}
