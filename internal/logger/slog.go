package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Options tunes the slog-backed logger.
type Options struct {
	// JSON selects the JSON handler instead of the text handler.
	JSON bool
	// Timezone for record timestamps. Defaults to local time.
	Timezone *time.Location
	// AddSource includes the caller location.
	AddSource bool
}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger creates a Logger writing to w at the given minimum level.
// opts may be nil.
func NewSlogLogger(w io.Writer, level LogLevel, opts *Options) Logger {
	if opts == nil {
		opts = &Options{}
	}
	tz := opts.Timezone
	handlerOpts := &slog.HandlerOptions{
		Level:     toSlogLevel(level),
		AddSource: opts.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if tz != nil && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.Time(slog.TimeKey, a.Value.Time().In(tz))
			}
			return a
		},
	}

	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}
	return &slogLogger{l: slog.New(h)}
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	return NewSlogLogger(io.Discard, LogLevelError, nil)
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

func (s *slogLogger) log(level slog.Level, msg string, fields []Field) {
	s.l.LogAttrs(context.Background(), level, msg, toAttrs(fields)...)
}

func (s *slogLogger) Debug(msg string, fields ...Field) { s.log(slog.LevelDebug, msg, fields) }
func (s *slogLogger) Info(msg string, fields ...Field)  { s.log(slog.LevelInfo, msg, fields) }
func (s *slogLogger) Warn(msg string, fields ...Field)  { s.log(slog.LevelWarn, msg, fields) }
func (s *slogLogger) Error(msg string, fields ...Field) { s.log(slog.LevelError, msg, fields) }

func (s *slogLogger) With(fields ...Field) Logger {
	args := make([]any, 0, len(fields))
	for _, a := range toAttrs(fields) {
		args = append(args, a)
	}
	return &slogLogger{l: s.l.With(args...)}
}

func (s *slogLogger) Module(name string) Logger {
	return &slogLogger{l: s.l.With(slog.String("module", name))}
}
