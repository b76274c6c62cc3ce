// Package log is the structured logger used across the service. Callers pass
// the request context on every call so trace and span ids ride along, and
// errors get their own argument so their wrap chain and stack are rendered.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	// Sync flushes buffered output. The slog backend writes through.
	Sync() error
}

type Options struct {
	// Stamped on every record
	App     string
	Version string
	Commit  string
	BuildId string

	Level slog.Level
	// StacktraceLevel is the lowest level that gets a "stack" attribute.
	// nil means error.
	StacktraceLevel slog.Leveler

	JsonFormat bool

	// IncludeErrorLinks adds the wrap sites of a logged error, up to MaxErrorLinks.
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Writer defaults to stdout
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a case-insensitive level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("unknown log level %q (valid levels are debug|info|warn|error)", s)
}
