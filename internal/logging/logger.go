package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"stationmon/internal/config"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGray   = "\x1b[90m"
	ansiBlue   = "\x1b[34m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

// New builds logger for configured sinks.
// Params: cfg contains console/file sink settings.
// Returns: slog logger, cleanup callback closing file sinks, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	return build(cfg, os.Stdout, isTerminal(os.Stdout))
}

// build assembles handlers over explicit console writer.
func build(cfg config.LogConfig, console io.Writer, color bool) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		out := console
		if color && cfg.Console.Format == "line" {
			out = &levelColorWriter{dst: console}
		}
		handler, err := newHandler(out, cfg.Console, true)
		if err != nil {
			return nil, nil, fmt.Errorf("console sink: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		file, err := os.OpenFile(cfg.File.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("file sink: open %q: %w", cfg.File.Path, err)
		}
		handler, err := newHandler(file, cfg.File, false)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	closeFn := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	switch len(handlers) {
	case 0:
		return nil, nil, errors.New("no log sinks enabled")
	case 1:
		return slog.New(handlers[0]), closeFn, nil
	default:
		return slog.New(fanout(handlers)), closeFn, nil
	}
}

// newHandler creates text or JSON handler for one sink.
// Params: destination, sink settings, and whether to drop timestamps (console only).
// Returns: handler or error for unknown level/format.
func newHandler(out io.Writer, sink config.LogSinkConfig, dropTime bool) (slog.Handler, error) {
	level, err := ParseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if dropTime {
		opts.ReplaceAttr = func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) == 0 && attr.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return attr
		}
	}
	switch sink.Format {
	case "line":
		return slog.NewTextHandler(out, opts), nil
	case "json":
		return slog.NewJSONHandler(out, opts), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

// ParseLevel converts configured level name into slog.Level.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", value)
	}
}

// fanout writes each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range f {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, 0, len(f))
	for _, handler := range f {
		next = append(next, handler.WithAttrs(attrs))
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, 0, len(f))
	for _, handler := range f {
		next = append(next, handler.WithGroup(name))
	}
	return next
}

// levelColorWriter wraps each rendered text line in its level color.
type levelColorWriter struct {
	dst io.Writer
}

func (w *levelColorWriter) Write(payload []byte) (int, error) {
	tone := levelTone(payload)
	if tone == "" {
		return w.dst.Write(payload)
	}
	line := bytes.TrimSuffix(payload, []byte("\n"))
	rendered := make([]byte, 0, len(payload)+len(tone)+len(ansiReset))
	rendered = append(rendered, tone...)
	rendered = append(rendered, line...)
	rendered = append(rendered, ansiReset...)
	if len(line) != len(payload) {
		rendered = append(rendered, '\n')
	}
	if _, err := w.dst.Write(rendered); err != nil {
		return 0, err
	}
	return len(payload), nil
}

func levelTone(line []byte) string {
	switch {
	case bytes.Contains(line, []byte("level=DEBUG")):
		return ansiGray
	case bytes.Contains(line, []byte("level=INFO")):
		return ansiBlue
	case bytes.Contains(line, []byte("level=WARN")):
		return ansiYellow
	case bytes.Contains(line, []byte("level=ERROR")):
		return ansiRed
	default:
		return ""
	}
}

func isTerminal(file *os.File) bool {
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
