// Package logutil builds the structured logger used by the command line
// tool.
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

// LevelTrace is below debug. It logs every declaration the extractor sees.
const LevelTrace slog.Level = -8

// NewLogger returns a text logger writing records at level or above to w.
// Source locations are trimmed to the file name.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if attr.Value.Any().(slog.Level) == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attr
		},
	}))
}

// Level maps the verbosity flags to a log level: quiet wins, each verbose
// step lowers the level from info to debug to trace.
func Level(quiet bool, verbose int) slog.Level {
	switch {
	case quiet:
		return slog.LevelWarn
	case verbose >= 2:
		return LevelTrace
	case verbose == 1:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Trace logs msg at trace level on logger.
func Trace(logger *slog.Logger, msg string, args ...any) {
	ctx := context.Background()
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	record := slog.NewRecord(time.Now(), LevelTrace, msg, pcs[0])
	record.Add(args...)
	_ = logger.Handler().Handle(ctx, record)
}
