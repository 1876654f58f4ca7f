package logger

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a string into a Level
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "info", "INFO", "":
		return INFO
	case "warn", "WARN", "warning", "WARNING":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Config holds logger configuration
type Config struct {
	Level     string    `yaml:"level"`  // debug, info, warn, error
	Pretty    bool      `yaml:"pretty"` // console output instead of JSON
	Component string    `yaml:"-"`
	Output    io.Writer `yaml:"-"`
}

// levelVar is shared by a logger and every component logger derived from it
type levelVar struct{ v atomic.Int32 }

func newLevelVar(l Level) *levelVar {
	lv := &levelVar{}
	lv.v.Store(int32(l))
	return lv
}

func (lv *levelVar) get() Level  { return Level(lv.v.Load()) }
func (lv *levelVar) set(l Level) { lv.v.Store(int32(l)) }

// Logger is a leveled, component-scoped logger backed by zerolog
type Logger struct {
	mu        sync.RWMutex
	zlog      zerolog.Logger
	level     *levelVar
	component string
	output    io.Writer
	pretty    bool
}

var (
	defaultLogger = New(&Config{Level: "info", Component: "civicpulse"})
	defaultMu     sync.RWMutex
)

// New creates a new logger with the given configuration
func New(cfg *Config) *Logger {
	component := cfg.Component
	if component == "" {
		component = "civicpulse"
	}
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	l := &Logger{
		level:     newLevelVar(ParseLevel(cfg.Level)),
		component: component,
		output:    output,
		pretty:    cfg.Pretty,
	}
	l.rebuild()
	return l
}

// rebuild recreates the zerolog instance; callers must hold mu or own l exclusively.
func (l *Logger) rebuild() {
	out := l.output
	if l.pretty {
		out = zerolog.ConsoleWriter{Out: l.output, TimeFormat: time.DateTime}
	}
	// filtering happens in event so a level change reaches every component
	l.zlog = zerolog.New(out).
		With().
		Timestamp().
		Str("component", l.component).
		Logger()
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.rebuild()
}

// SetLevel sets the minimum logging level for l and its component loggers
func (l *Logger) SetLevel(level Level) {
	l.level.set(level)
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	return l.level.get()
}

// Zerolog exposes the underlying logger for structured fields
func (l *Logger) Zerolog() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zlog.Level(l.level.get().zerolog())
}

// WithComponent returns a new logger with a different component name
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	child := &Logger{
		level:     l.level,
		component: component,
		output:    l.output,
		pretty:    l.pretty,
	}
	child.rebuild()
	return child
}

// WithRequestID returns a logger that tags every line with a request id
func (l *Logger) WithRequestID(requestID string) *ContextLogger {
	return &ContextLogger{logger: l, requestID: requestID}
}

func (l *Logger) event(level Level) *zerolog.Event {
	if level < l.level.get() {
		return nil
	}
	l.mu.RLock()
	z := l.zlog
	l.mu.RUnlock()

	switch level {
	case DEBUG:
		return z.Debug()
	case WARN:
		return z.Warn()
	case ERROR:
		return z.Error()
	default:
		return z.Info()
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.event(DEBUG).Msgf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.event(INFO).Msgf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.event(WARN).Msgf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.event(ERROR).Msgf(format, args...)
}

// ContextLogger adds a request id to every message
type ContextLogger struct {
	logger    *Logger
	requestID string
}

func (cl *ContextLogger) log(level Level, format string, args ...any) {
	cl.logger.event(level).Str("request_id", cl.requestID).Msgf(format, args...)
}

func (cl *ContextLogger) Debug(format string, args ...any) { cl.log(DEBUG, format, args...) }
func (cl *ContextLogger) Info(format string, args ...any)  { cl.log(INFO, format, args...) }
func (cl *ContextLogger) Warn(format string, args ...any)  { cl.log(WARN, format, args...) }
func (cl *ContextLogger) Error(format string, args ...any) { cl.log(ERROR, format, args...) }

// Package-level functions that use the default logger

// SetDefaultLogger sets the package-level default logger
func SetDefaultLogger(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// GetDefaultLogger returns the package-level default logger
func GetDefaultLogger() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Component returns a child of the default logger
func Component(name string) *Logger {
	return GetDefaultLogger().WithComponent(name)
}

// SetLevel sets the default logger's level
func SetLevel(level Level) {
	GetDefaultLogger().SetLevel(level)
}

func Debug(format string, args ...any) { GetDefaultLogger().Debug(format, args...) }
func Info(format string, args ...any)  { GetDefaultLogger().Info(format, args...) }
func Warn(format string, args ...any)  { GetDefaultLogger().Warn(format, args...) }
func Error(format string, args ...any) { GetDefaultLogger().Error(format, args...) }
