// Package logging owns the engine's log file: boot-time rotation and
// pruning of the archive directory, and the drain goroutine that empties
// the realtime-safe log queue into the file. The realtime plane never
// touches this package; it only enqueues fixed-size bus.LogItem values.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuepilot/cuepilot/internal/bus"
)

const (
	currentLogName = "log.txt"

	// Archive pruning: old logs are deleted once the directory exceeds the
	// size cap and they are older than the retention window.
	archiveSizeCap = 16 * 1024 * 1024
	archiveMaxAge  = 30 * 24 * time.Hour

	// drainInterval paces the queue drain loop while it is idle.
	drainInterval = 25 * time.Millisecond
)

// Sink is the open current log file.
type Sink struct {
	dir string
	f   *os.File
}

// Open prepares the log directory: rotates the previous current log to an
// epoch-stamped archive, prunes old archives, and opens a fresh file.
func Open(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	current := filepath.Join(dir, currentLogName)
	if _, err := os.Stat(current); err == nil {
		stamp := strconv.FormatInt(time.Now().Unix(), 32)
		archived := filepath.Join(dir, "log_"+stamp+".txt")
		if err := os.Rename(current, archived); err != nil {
			return nil, fmt.Errorf("rotating log file: %w", err)
		}
	}

	prune(dir)

	f, err := os.OpenFile(current, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return &Sink{dir: dir, f: f}, nil
}

// prune deletes archives older than the retention window once the
// directory exceeds the size cap. Failures are ignored; pruning is best
// effort.
func prune(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var total int64
	for _, e := range entries {
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	if total <= archiveSizeCap {
		return
	}
	cutoff := time.Now().Add(-archiveMaxAge)
	for _, e := range entries {
		if e.Name() == currentLogName {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

// WriteLine appends one formatted line to the current log.
func (s *Sink) WriteLine(line string) {
	fmt.Fprintln(s.f, line)
}

// Close closes the current log file.
func (s *Sink) Close() error {
	return s.f.Close()
}

// slogLevel maps a queue item level onto slog.
func slogLevel(l bus.LogLevel) slog.Level {
	switch l {
	case bus.LevelDebug:
		return slog.LevelDebug
	case bus.LevelWarn:
		return slog.LevelWarn
	case bus.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Drain empties the log queue into the sink and the process logger until
// the context is cancelled, then takes one final pass so shutdown items are
// not lost. Runs on its own goroutine; it is the only writer of the sink.
func Drain(ctx context.Context, b *bus.Bus, sink *Sink, logger *slog.Logger) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		drainAll(b, sink, logger)
		select {
		case <-ctx.Done():
			drainAll(b, sink, logger)
			return
		case <-ticker.C:
		}
	}
}

func drainAll(b *bus.Bus, sink *Sink, logger *slog.Logger) {
	for {
		item, ok := b.TryLog()
		if !ok {
			return
		}
		msg := item.Expand()
		if item.Level >= bus.LevelInfo {
			// Mirror notable items to subscribers who asked for logs.
			it := item
			b.Notify(bus.Message{Type: bus.MsgLog, Log: &it})
		}
		logger.Log(context.Background(), slogLevel(item.Level), msg,
			"subsystem", item.Subsystem.String(),
			"arg1", item.Arg1,
			"arg2", item.Arg2,
		)
		sink.WriteLine(fmt.Sprintf("[%s] %s %s: %s",
			time.Now().UTC().Format(time.RFC3339),
			levelName(item.Level),
			item.Subsystem,
			msg,
		))
	}
}

func levelName(l bus.LogLevel) string {
	switch l {
	case bus.LevelDebug:
		return "DEBUG"
	case bus.LevelWarn:
		return "WARNING"
	case bus.LevelError:
		return "ERROR"
	default:
		return "NOTE"
	}
}
