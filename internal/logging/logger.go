// Package logging provides structured logging for the ionic engine.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with engine-specific context fields.
type Logger struct {
	zlog   zerolog.Logger
	closer io.Closer
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(zerolog.DebugLevel)
	LevelInfo  LogLevel = LogLevel(zerolog.InfoLevel)
	LevelWarn  LogLevel = LogLevel(zerolog.WarnLevel)
	LevelError LogLevel = LogLevel(zerolog.ErrorLevel)
)

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a level.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	Sync    bool // If true, writes are synchronous (useful for testing)
	NoColor bool
}

// DefaultConfig returns the configuration used by Default().
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// asyncWriter moves log writes off the poll loop. When the buffer is full,
// messages are dropped rather than stalling the caller.
type asyncWriter struct {
	out     io.Writer
	ch      chan []byte
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func newAsyncWriter(w io.Writer, bufferSize int) *asyncWriter {
	aw := &asyncWriter{
		out:  w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go aw.run()
	return aw
}

func (aw *asyncWriter) run() {
	defer close(aw.done)
	for msg := range aw.ch {
		_, _ = aw.out.Write(msg)
	}
}

func (aw *asyncWriter) Write(p []byte) (int, error) {
	// p is reused by zerolog after Write returns.
	msg := make([]byte, len(p))
	copy(msg, p)

	aw.mu.Lock()
	defer aw.mu.Unlock()
	if aw.closed {
		return 0, io.ErrClosedPipe
	}
	select {
	case aw.ch <- msg:
	default:
		aw.dropped++
	}
	return len(p), nil
}

// Close flushes queued messages and stops the writer goroutine.
func (aw *asyncWriter) Close() error {
	aw.mu.Lock()
	if !aw.closed {
		aw.closed = true
		close(aw.ch)
	}
	aw.mu.Unlock()
	<-aw.done
	return nil
}

// NewLogger creates a new structured logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	l := &Logger{}
	if !config.Sync {
		aw := newAsyncWriter(out, 1024)
		l.closer = aw
		out = aw
	}

	if config.Format == "json" {
		l.zlog = zerolog.New(out)
	} else {
		l.zlog = zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: config.NoColor})
	}
	l.zlog = l.zlog.With().Timestamp().Logger().Level(zerolog.Level(config.Level))
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Close flushes an asynchronous logger. Derived loggers share the writer; close
// only the root.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// OrDefault returns l, or the default logger when l is nil.
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return Default()
	}
	return l
}

func (l *Logger) derive(ctx zerolog.Context) *Logger {
	return &Logger{zlog: ctx.Logger()}
}

// WithLIF returns a logger with LIF context
func (l *Logger) WithLIF(index uint16) *Logger {
	return l.derive(l.zlog.With().Uint16("lif", index))
}

// WithQueue returns a logger with queue context
func (l *Logger) WithQueue(name string) *Logger {
	return l.derive(l.zlog.With().Str("queue", name))
}

// WithCommand returns a logger tagged with a command opcode name.
func (l *Logger) WithCommand(opcode fmt.Stringer) *Logger {
	return l.derive(l.zlog.With().Stringer("opcode", opcode))
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.zlog.With().Err(err))
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return l.zlog.GetLevel() <= zerolog.Level(level)
}

// emit attaches alternating key/value args to the event. A non-string key or a
// trailing key without a value is logged under "arg".
func emit(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			event = event.Interface("arg", args[i])
			i--
			continue
		}
		event = event.Interface(key, args[i+1])
	}
	event.Msg(msg)
}

func (l *Logger) Debug(msg string, args ...any) { emit(l.zlog.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { emit(l.zlog.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { emit(l.zlog.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...any) { emit(l.zlog.Error(), msg, args) }

// Printf-style logging
func (l *Logger) Debugf(format string, args ...any) {
	l.zlog.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.zlog.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.zlog.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zlog.Error().Msgf(format, args...)
}

// Convenience functions for global logger
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
