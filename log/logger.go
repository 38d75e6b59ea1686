package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Prefix starts every line written by DefaultLogger
const Prefix = "[chatmemory] "

// LogLevel is a logging severity. Higher levels are more severe.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelNone disables all logging
	LogLevelNone
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// ParseLevel converts a configuration string such as "debug" or "WARN" to a LogLevel.
// An empty string means info; "none", "disable" and "off" turn logging off.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "disable", "off":
		return LogLevelNone, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger is the leveled logger used by session memory, stores and binaries.
// Messages are printf-style.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// LevelLogger is a Logger whose threshold can change at runtime
type LevelLogger interface {
	Logger
	SetLevel(level LogLevel)
	GetLevel() LogLevel
}

// DefaultLogger writes through the standard library logger, one
// "[LEVEL] message" line per call
type DefaultLogger struct {
	logger *log.Logger
	level  atomic.Int32
}

var _ LevelLogger = (*DefaultLogger)(nil)

// NewDefaultLogger creates a logger writing to stderr
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return NewCustomLogger(os.Stderr, level)
}

// NewCustomLogger creates a logger writing to out
func NewCustomLogger(out io.Writer, level LogLevel) *DefaultLogger {
	l := &DefaultLogger{logger: log.New(out, Prefix, log.LstdFlags)}
	l.SetLevel(level)
	return l
}

func (l *DefaultLogger) logf(level LogLevel, format string, v []any) {
	if level < l.GetLevel() {
		return
	}
	l.logger.Printf("["+level.String()+"] "+format, v...)
}

func (l *DefaultLogger) Debug(format string, v ...any) { l.logf(LogLevelDebug, format, v) }
func (l *DefaultLogger) Info(format string, v ...any)  { l.logf(LogLevelInfo, format, v) }
func (l *DefaultLogger) Warn(format string, v ...any)  { l.logf(LogLevelWarn, format, v) }
func (l *DefaultLogger) Error(format string, v ...any) { l.logf(LogLevelError, format, v) }

// SetLevel drops messages below level
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

func (l *DefaultLogger) GetLevel() LogLevel {
	return LogLevel(l.level.Load())
}

// NoOpLogger discards everything
type NoOpLogger struct{}

func (*NoOpLogger) Debug(string, ...any) {}
func (*NoOpLogger) Info(string, ...any)  {}
func (*NoOpLogger) Warn(string, ...any)  {}
func (*NoOpLogger) Error(string, ...any) {}

type loggerHolder struct{ Logger }

var defaultLogger atomic.Pointer[loggerHolder]

func init() {
	SetDefaultLogger(NewDefaultLogger(LogLevelInfo))
}

// SetDefaultLogger replaces the package-level logger. It is what SessionMemory
// uses when no logger is given, and what Info, Warn and Error write to.
// A nil logger discards output.
func SetDefaultLogger(logger Logger) {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	defaultLogger.Store(&loggerHolder{logger})
}

// GetDefaultLogger returns the package-level logger
func GetDefaultLogger() Logger {
	return defaultLogger.Load().Logger
}

// Info logs through the package-level logger
func Info(format string, v ...any) {
	GetDefaultLogger().Info(format, v...)
}

// Warn logs through the package-level logger
func Warn(format string, v ...any) {
	GetDefaultLogger().Warn(format, v...)
}

// Error logs through the package-level logger
func Error(format string, v ...any) {
	GetDefaultLogger().Error(format, v...)
}
