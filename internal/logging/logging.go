// Package logging builds the slog loggers used by the CLI and the daemon.
package logging

import (
	"io"
	"strings"
	"sync"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"cdr.dev/slog/v3/sloggers/slogjson"
	"golang.org/x/xerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

type (
	Option  func(*Builder)
	Builder struct {
		// Human receives human readable output, usually stderr.
		Human io.Writer
		// JSON is a file path for structured output, rotated by size.
		JSON  string
		Level string
	}
)

func New(opts ...Option) *Builder {
	b := &Builder{Level: "info"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func WithHuman(w io.Writer) Option {
	return func(b *Builder) {
		b.Human = w
	}
}

func WithJSON(path string) Option {
	return func(b *Builder) {
		b.JSON = path
	}
}

func WithLevel(level string) Option {
	return func(b *Builder) {
		if level != "" {
			b.Level = level
		}
	}
}

// Build returns the logger and a func that closes any log files.
func (b *Builder) Build() (slog.Logger, func(), error) {
	level, err := ParseLevel(b.Level)
	if err != nil {
		return slog.Logger{}, func() {}, err
	}

	var (
		sinks   []slog.Sink
		closers []func() error
	)
	if b.Human != nil {
		sinks = append(sinks, sloghuman.Sink(b.Human))
	}
	if b.JSON != "" {
		w := &closeOnceWriter{Writer: &lumberjack.Logger{
			Filename: b.JSON,
			MaxSize:  5, // MB
			// Without this, rotated logs will never be deleted.
			MaxBackups: 1,
		}}
		closers = append(closers, w.Close)
		sinks = append(sinks, slogjson.Sink(w))
	}
	if len(sinks) == 0 {
		return slog.Logger{}, func() {}, xerrors.New("no log sinks configured")
	}

	return slog.Make(sinks...).Leveled(level), func() {
		for _, c := range closers {
			_ = c()
		}
	}, nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, xerrors.Errorf("unknown log level %q", s)
	}
}

// closeOnceWriter drops writes after Close; lumberjack would otherwise
// reopen the file.
type closeOnceWriter struct {
	Writer io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func (c *closeOnceWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.Writer.Close()
}

func (c *closeOnceWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	return c.Writer.Write(p)
}
