package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog to provide subsystem-scoped child loggers.
type Logger struct {
	zl zerolog.Logger
}

// Options controls how Open builds the root logger.
type Options struct {
	Level        string
	ConsoleStyle string // "pretty" | "json"
	File         string // optional rotated log file
	MaxSizeMB    int
	MaxBackups   int
	MaxAgeDays   int
}

// New returns a root logger writing to w at level. A nil w means the pretty
// console on stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = prettyStderr()
	}
	return &Logger{
		zl: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger(),
	}
}

func prettyStderr() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

// Open builds the root logger from options. The returned closer releases the
// log file, if one was configured.
func Open(opts Options) (*Logger, io.Closer) {
	var console io.Writer = os.Stderr
	if opts.ConsoleStyle != "json" {
		console = prettyStderr()
	}

	if opts.File == "" {
		return New(console, opts.Level), nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	return New(zerolog.MultiLevelWriter(console, file), opts.Level), file
}

// Sub returns a child logger whose entries carry subsystem=name.
func (l *Logger) Sub(subsystem string) *Logger {
	return &Logger{zl: l.zl.With().Str("subsystem", subsystem).Logger()}
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Level-scoped events. Nothing is written until Msg or Send is called.
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Redis adapts the logger for go-redis's internal logging hook
// (redis.SetLogger). Driver messages are logged at warn level.
func (l *Logger) Redis() *RedisLogger {
	return &RedisLogger{log: l.Sub("redis")}
}

// RedisLogger satisfies the go-redis internal logging interface.
type RedisLogger struct {
	log *Logger
}

// Printf implements the go-redis logging interface.
func (r *RedisLogger) Printf(_ context.Context, format string, v ...any) {
	r.log.Warn().Msg(fmt.Sprintf(format, v...))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// parseLevel accepts zerolog level names in any case plus "silent".
// Anything unrecognised means info.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(s)
	if s == "silent" {
		return zerolog.Disabled
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
