// Package logging provides structured logging for CraftTrack.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ParseLevel maps a config string ("debug", "INFO", ...) to a LogLevel.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger provides structured JSON logging on top of logrus.
type Logger struct {
	base     *logrus.Logger
	out      io.Writer
	minLevel LogLevel
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
)

// New creates a logger writing JSON lines to out.
func New(out io.Writer, minLevel LogLevel) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(&entryFormatter{})
	base.SetLevel(minLevel.logrus())
	return &Logger{base: base, out: out, minLevel: minLevel}
}

// Init initializes the global logger.
func Init(out io.Writer, minLevel LogLevel) {
	once.Do(func() {
		global = New(out, minLevel)
	})
}

// InitFile initializes the global logger with a size-rotated log file.
func InitFile(path string, minLevel LogLevel, maxSizeMB, maxBackups int) {
	Init(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}, minLevel)
}

// Get returns the global logger instance.
func Get() *Logger {
	if global == nil {
		Init(os.Stdout, LevelInfo)
	}
	return global
}

// LogEntry represents a structured log entry.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Error     string                 `json:"error,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

const (
	fieldError   = "error"
	fieldContext = "context"
)

// entryFormatter renders logrus entries as LogEntry JSON lines.
type entryFormatter struct{}

func (f *entryFormatter) Format(e *logrus.Entry) ([]byte, error) {
	entry := LogEntry{
		Timestamp: e.Time.UTC().Format(time.RFC3339),
		Level:     levelName(e.Level),
		Message:   e.Message,
	}
	if errStr, ok := e.Data[fieldError].(string); ok {
		entry.Error = errStr
	}
	if ctx, ok := e.Data[fieldContext].(map[string]interface{}); ok && len(ctx) > 0 {
		entry.Context = ctx
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func levelName(l logrus.Level) string {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return string(LevelDebug)
	case logrus.WarnLevel:
		return string(LevelWarn)
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return string(LevelError)
	default:
		return string(LevelInfo)
	}
}

// log writes a log entry at the specified level.
func (l *Logger) log(level LogLevel, message string, err error, context map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}
	fields := logrus.Fields{}
	if err != nil {
		fields[fieldError] = err.Error()
	}
	if context != nil {
		fields[fieldContext] = context
	}
	l.base.WithFields(fields).Log(level.logrus(), message)
}

// shouldLog checks if a level should be logged.
func (l *Logger) shouldLog(level LogLevel) bool {
	return l.base.IsLevelEnabled(level.logrus())
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.log(LevelDebug, message, nil, l.getContext(context...))
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.log(LevelInfo, message, nil, l.getContext(context...))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.log(LevelWarn, message, nil, l.getContext(context...))
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	l.log(LevelError, message, err, l.getContext(context...))
}

// ErrorWithCode logs an error message tagged with an error code.
func (l *Logger) ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	ctx := map[string]interface{}{"error_code": code}
	for k, v := range l.getContext(context...) {
		ctx[k] = v
	}
	l.log(LevelError, message, err, ctx)
}

// getContext merges multiple context maps.
func (l *Logger) getContext(context ...map[string]interface{}) map[string]interface{} {
	if len(context) == 0 {
		return nil
	}
	if len(context) == 1 {
		return context[0]
	}
	merged := make(map[string]interface{})
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}

// Convenience functions using global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}

func ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	Get().ErrorWithCode(message, code, err, context...)
}
