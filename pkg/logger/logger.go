package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/meritorder/pkg/config"
)

// Logger is a structured logger wrapper around zerolog
// ⭐ SSOT: 모든 로깅은 이 패키지를 통해서만 수행
type Logger struct {
	zlog zerolog.Logger
}

// New creates a new Logger writing to stderr.
// stdout is reserved for command reports.
func New(cfg *config.Config) *Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter creates a Logger writing to w
// ⭐ SSOT: zerolog 인스턴스는 여기서만 생성
func NewWithWriter(cfg *config.Config, w io.Writer) *Logger {
	output := w
	if cfg.LogFormat == "console" || cfg.LogFormat == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("env", cfg.Env).
		Logger()

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything (tests, library defaults)
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// parseLogLevel converts string log level to zerolog.Level
func parseLogLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.zlog.Error().Msg(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithFields returns a new logger with multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// WithError returns a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

// WithComponent tags every entry with the emitting package
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// WithStage tags every entry with the pipeline stage
func (l *Logger) WithStage(stage string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("stage", stage).Logger()}
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}
