package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the structured logging contract used throughout the runner.
// Every method pulls dynamic fields (run id, fragment id, trace id, ...) out
// of ctx via GetLogFields before emitting, so per-call fields travel in the
// context.Context; the Logger instance itself is handed to components such
// as the registry, pump, router and fragment handles when they are built.
type Logger interface {
	Debug(ctx context.Context, msg string)
	Debugf(ctx context.Context, format string, args ...interface{})
	Info(ctx context.Context, msg string)
	Infof(ctx context.Context, format string, args ...interface{})
	Warn(ctx context.Context, msg string)
	Warnf(ctx context.Context, format string, args ...interface{})
	Error(ctx context.Context, err error, msg string)
	Errorf(ctx context.Context, format string, args ...interface{})
	With(fields LogFields) Logger
}

// Config controls how a Logger is constructed.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json, console
	Output    io.Writer
	Component string
	Version   string
}

// ConfigFromEnv builds a Config from LOG_LEVEL/LOG_FORMAT environment
// variables, defaulting to info/json (grounded in the teacher's
// buildLoggerConfig helper).
func ConfigFromEnv(component, version string) Config {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "json"
	}
	return Config{
		Level:     level,
		Format:    format,
		Output:    os.Stdout,
		Component: component,
		Version:   version,
	}
}

type zerologLogger struct {
	logger zerolog.Logger
}

// NewLogger constructs a zerolog-backed Logger from cfg.
func NewLogger(cfg Config) Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	hostname, _ := os.Hostname()

	base := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str(string(ComponentKey), cfg.Component).
		Str(string(VersionKey), cfg.Version).
		Str(string(HostnameKey), hostname).
		Logger()

	return &zerologLogger{logger: base}
}

func (l *zerologLogger) event(ctx context.Context, lvl zerolog.Level) *zerolog.Event {
	ev := l.logger.WithLevel(lvl)
	for k, v := range GetLogFields(ctx) {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (l *zerologLogger) Debug(ctx context.Context, msg string) {
	l.event(ctx, zerolog.DebugLevel).Msg(msg)
}

func (l *zerologLogger) Debugf(ctx context.Context, format string, args ...interface{}) {
	l.event(ctx, zerolog.DebugLevel).Msg(fmt.Sprintf(format, args...))
}

func (l *zerologLogger) Info(ctx context.Context, msg string) {
	l.event(ctx, zerolog.InfoLevel).Msg(msg)
}

func (l *zerologLogger) Infof(ctx context.Context, format string, args ...interface{}) {
	l.event(ctx, zerolog.InfoLevel).Msg(fmt.Sprintf(format, args...))
}

func (l *zerologLogger) Warn(ctx context.Context, msg string) {
	l.event(ctx, zerolog.WarnLevel).Msg(msg)
}

func (l *zerologLogger) Warnf(ctx context.Context, format string, args ...interface{}) {
	l.event(ctx, zerolog.WarnLevel).Msg(fmt.Sprintf(format, args...))
}

func (l *zerologLogger) Error(ctx context.Context, err error, msg string) {
	ctx = WithErrorField(ctx, err)
	if shouldCaptureStackTrace(err) {
		ctx = withStackTraceField(ctx, CaptureStackTrace(1))
	}
	l.event(ctx, zerolog.ErrorLevel).Msg(msg)
}

func (l *zerologLogger) Errorf(ctx context.Context, format string, args ...interface{}) {
	l.event(ctx, zerolog.ErrorLevel).Msg(fmt.Sprintf(format, args...))
}

func (l *zerologLogger) With(fields LogFields) Logger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &zerologLogger{logger: ctx.Logger()}
}
