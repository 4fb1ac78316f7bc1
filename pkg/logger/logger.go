package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// collectSkip reaches the caller of Debug/Info/Warn/Error from collect.
	collectSkip = 3
	// eventSkip is zerolog's own two frames plus the level method and emit.
	eventSkip = 4
)

// Logger is a zerolog logger with typed fields. Error and Warn entries are
// also handed to an optional LogCollector.
type Logger struct {
	zl        zerolog.Logger
	fields    []Field
	collector *LogCollector
}

type Config struct {
	Level      string    // debug, info, warn, error
	Format     string    // json or console
	Output     string    // stdout, stderr, or file path
	TimeFormat string    // defaults to RFC3339Nano
	Writer     io.Writer // overrides Output when set
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: cfg.TimeFormat,
			NoColor:    cfg.Writer != nil,
		}
	}

	zl := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(eventSkip).
		Logger()

	return &Logger{zl: zl}, nil
}

func openOutput(cfg *Config) (io.Writer, error) {
	switch {
	case cfg.Writer != nil:
		return cfg.Writer, nil
	case cfg.Output == "" || cfg.Output == "stdout":
		return os.Stdout, nil
	case cfg.Output == "stderr":
		return os.Stderr, nil
	}
	file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open log file: %w", err)
	}
	return file, nil
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), "", msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { l.emit(l.zl.Info(), "", msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) { l.emit(l.zl.Warn(), "warn", msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) { l.emit(l.zl.Error(), "error", msg, fields) }

// emit writes the event and, for a non-empty collect level, forwards it to
// the collector. A nil event means the level is disabled.
func (l *Logger) emit(event *zerolog.Event, collect, msg string, fields []Field) {
	if event != nil {
		for _, f := range fields {
			f.AddTo(event)
		}
		event.Msg(msg)
	}
	if collect != "" && l.collector != nil {
		l.collect(collect, msg, fields)
	}
}

func (l *Logger) collect(level, msg string, fields []Field) {
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(collectSkip); ok {
		if i := strings.LastIndex(file, "GridWatch/"); i >= 0 {
			file = file[i+len("GridWatch/"):]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	fieldMap := make(map[string]interface{}, len(l.fields)+len(fields))
	for _, f := range append(l.fields[:len(l.fields):len(l.fields)], fields...) {
		k, v := f.GetKeyValue()
		fieldMap[k] = v
	}

	l.collector.AddLog(level, msg, fieldMap, caller)
}

// AddCollector attaches a collector, closing any previous one.
func (l *Logger) AddCollector(config *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(config)
}

// RemoveCollector flushes and detaches the collector. Children created by
// With keep their reference and must not log afterwards.
func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

// With returns a child logger that always carries fields.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		k, v := f.GetKeyValue()
		ctx = ctx.Interface(k, v)
	}
	inherited := append(l.fields[:len(l.fields):len(l.fields)], fields...)
	return &Logger{zl: ctx.Logger(), fields: inherited, collector: l.collector}
}
