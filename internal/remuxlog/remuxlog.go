// Package remuxlog wires a package-level structured logger, following the
// shape of alxayo-rtmp-go's internal/logger (dynamic level, env+flag
// precedence, sync.Once init) reused as ambient logging idiom — no
// third-party logger appears in any go.mod across the retrieved pack, so
// log/slog is the grounded choice (see DESIGN.md).
package remuxlog

import (
	"flag"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const envLogLevel = "REMUX_LOG_LEVEL"

var (
	atomicLevel = &dynamicLevel{}
	global      *slog.Logger
	initOnce    sync.Once
	flagLevel   = flag.String("log.level", "", "log level (debug, info, warn, error)")
)

type dynamicLevel struct{ v int64 }

func (d *dynamicLevel) Level() slog.Level { return slog.Level(atomic.LoadInt64(&d.v)) }
func (d *dynamicLevel) set(l slog.Level)  { atomic.StoreInt64(&d.v, int64(l)) }

// Init initializes the global logger. Safe to call multiple times; only
// the first call takes effect.
func Init() {
	initOnce.Do(func() {
		atomicLevel.set(detectLevel())
		global = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: atomicLevel}))
	})
}

func detectLevel() slog.Level {
	val := *flagLevel
	if val == "" {
		for _, arg := range os.Args[1:] {
			if strings.HasPrefix(arg, "-log.level=") {
				val = strings.SplitN(arg, "=", 2)[1]
			}
		}
	}
	if val == "" {
		val = os.Getenv(envLogLevel)
	}
	switch strings.ToLower(val) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns the global logger, initializing it on first use.
func Logger() *slog.Logger {
	Init()
	return global
}

// The following helpers emit the five warning classes spec.md §7
// enumerates as "user-visible behavior" during streaming: they are
// out-of-band notices, never returned errors.

// FabricatedIndex warns that a stream's index was reconstructed by a
// full file scan rather than read from idx1/OpenDML.
func FabricatedIndex(streamIndex int, position int64) {
	Logger().Warn("fabricated index", "stream", streamIndex, "position", position)
}

// SubstitutedFrameRate warns that a stream's rate/scale fell back to a
// guessed value (spec.md §4.1 "Post-indexing fixups").
func SubstitutedFrameRate(streamIndex int, rate, scale uint32) {
	Logger().Warn("substituted frame rate", "stream", streamIndex, "rate", rate, "scale", scale)
}

// VBRDetected warns that an audio stream was reclassified as VBR.
func VBRDetected(streamIndex int, meanBitrate float64) {
	Logger().Warn("vbr detected", "stream", streamIndex, "mean_bitrate", meanBitrate)
}

// AggressiveModeEngaged warns that the file-scan reindexer engaged its
// two-stage aggressive-mode recovery after a malformed chunk header.
func AggressiveModeEngaged(position int64) {
	Logger().Warn("aggressive mode activated", "position", position)
}

// StreamingDisabled warns that a corruption sentinel or cache-miss
// remediation permanently disabled streaming-cache optimizations.
func StreamingDisabled(reason string, position int64) {
	Logger().Warn("streaming disabled", "reason", reason, "position", position)
}
