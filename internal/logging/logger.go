// Package logging implements the stateful, change-only logger.
//
// Every emission is identified by a stable key. The logger remembers the
// hash of the last value emitted per key and suppresses repeats, so a value
// that is logged every tick produces exactly one line until it changes.
// Suppression is accounted before level filtering: the cache always tracks
// the last seen value even for entries the level filter drops.
//
// Output goes through log/slog. An optional rotating file sink mirrors the
// console stream to sentrycoin-<timestamp>.log files; sink failures degrade
// to console-only and never reach callers.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"sentrycoin/internal/config"
)

// LevelCritical extends slog's levels above ERROR for kill-grade events.
const LevelCritical = slog.Level(12)

// keyState is what the logger remembers per key.
type keyState struct {
	hash       uint64
	emitted    int64
	suppressed int64
	lastSeen   time.Time
}

// Stats summarizes logger activity since start (or the last cache clear).
type Stats struct {
	Keys       int   `json:"keys"`
	Emitted    int64 `json:"emitted"`
	Suppressed int64 `json:"suppressed"`
}

// Logger is the stateful dedupe layer in front of slog.
// Safe for concurrent use from any goroutine.
type Logger struct {
	slog            *slog.Logger
	minLevel        slog.Level
	stateChangeOnly bool

	mu    sync.Mutex
	cache map[string]*keyState
	stats Stats

	sink *RotatingSink // nil when file logging is disabled
}

// New builds a logger from config. When cfg.Dir is set, a rotating file sink
// is attached; failure to create it is non-fatal and reported via the
// returned warning error (the logger still works console-only).
func New(cfg config.LoggingConfig) (*Logger, error) {
	var out io.Writer = os.Stdout
	var sink *RotatingSink
	var sinkErr error

	if cfg.Dir != "" {
		sink, sinkErr = NewRotatingSink(cfg.Dir, cfg.MaxFileBytes, cfg.MaxFiles)
		if sinkErr == nil {
			out = io.MultiWriter(os.Stdout, sink)
		}
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	l := &Logger{
		slog:            slog.New(handler),
		minLevel:        level,
		stateChangeOnly: cfg.StateChangeOnly,
		cache:           make(map[string]*keyState),
		sink:            sink,
	}
	if sinkErr != nil {
		return l, fmt.Errorf("file sink disabled: %w", sinkErr)
	}
	return l, nil
}

// Slog exposes the underlying slog.Logger for components that want plain
// structured logging without dedup.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Log emits (key, value) at the given level unless the value is unchanged
// since the last emission for that key. Returns true iff a line was written.
func (l *Logger) Log(key string, value any, level slog.Level, attrs ...any) bool {
	return l.log(key, value, level, false, attrs...)
}

// Force emits regardless of the suppression cache (one call only).
func (l *Logger) Force(key string, value any, level slog.Level, attrs ...any) bool {
	return l.log(key, value, level, true, attrs...)
}

func (l *Logger) log(key string, value any, level slog.Level, force bool, attrs ...any) bool {
	h := hashEntry(key, value)

	l.mu.Lock()
	ks, ok := l.cache[key]
	if !ok {
		ks = &keyState{}
		l.cache[key] = ks
	}
	unchanged := ok && ks.hash == h
	ks.hash = h
	ks.lastSeen = time.Now()

	suppress := l.stateChangeOnly && unchanged && !force
	if suppress {
		ks.suppressed++
		l.stats.Suppressed++
		l.mu.Unlock()
		return false
	}
	ks.emitted++
	l.stats.Emitted++
	l.mu.Unlock()

	// Level filtering happens after suppression accounting so the cache
	// still tracks values that never reach the handler.
	if level < l.minLevel {
		return false
	}

	args := append([]any{"value", value}, attrs...)
	l.slog.Log(context.Background(), level, key, args...)
	return true
}

// Debug logs at DEBUG with dedup.
func (l *Logger) Debug(key string, value any, attrs ...any) bool {
	return l.Log(key, value, slog.LevelDebug, attrs...)
}

// Info logs at INFO with dedup.
func (l *Logger) Info(key string, value any, attrs ...any) bool {
	return l.Log(key, value, slog.LevelInfo, attrs...)
}

// Warn logs at WARN with dedup.
func (l *Logger) Warn(key string, value any, attrs ...any) bool {
	return l.Log(key, value, slog.LevelWarn, attrs...)
}

// Error logs at ERROR with dedup.
func (l *Logger) Error(key string, value any, attrs ...any) bool {
	return l.Log(key, value, slog.LevelError, attrs...)
}

// Critical logs at the CRITICAL level with dedup.
func (l *Logger) Critical(key string, value any, attrs ...any) bool {
	return l.Log(key, value, LevelCritical, attrs...)
}

// ClearStateCache drops all per-key state; the next log of any key emits.
func (l *Logger) ClearStateCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*keyState)
}

// StateCache returns a copy of the per-key hashes (for /status inspection).
func (l *Logger) StateCache() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.cache))
	for k, ks := range l.cache {
		out[k] = ks.hash
	}
	return out
}

// GetStats returns cumulative emit/suppress counters.
func (l *Logger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Keys = len(l.cache)
	return s
}

// Close flushes and closes the file sink, if any.
func (l *Logger) Close() error {
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// hashEntry computes a stable non-cryptographic hash of the key followed by
// the canonical JSON serialization of the value. encoding/json sorts map
// keys, so identical values hash identically across runs.
func hashEntry(key string, value any) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	if b, err := json.Marshal(value); err == nil {
		h.Write(b)
	} else {
		fmt.Fprintf(h, "%v", value)
	}
	return h.Sum64()
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
