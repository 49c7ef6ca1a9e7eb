// Package logging provides structured logging for tabmind.
// Wraps zerolog with component tagging and date-based log files.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with tabmind-specific functionality.
type Logger struct {
	zl        zerolog.Logger
	component string
	logDir    string
	file      *os.File
	mu        sync.Mutex
}

// Config holds logging configuration.
type Config struct {
	Level         string // debug, info, warn, error
	Path          string // log directory; empty means stderr only
	Format        string // json, text
	RetentionDays int    // days to keep log files (default 7)
}

// DefaultConfig returns default logging configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Level:         "info",
		Path:          filepath.Join(home, ".local", "share", "tabmind", "logs"),
		Format:        "json",
		RetentionDays: 7,
	}
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// Init initializes the global logger.
func Init(cfg Config) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	logger, err := New(cfg)
	if err != nil {
		return err
	}

	if globalLogger != nil && globalLogger.file != nil {
		_ = globalLogger.file.Close()
	}

	globalLogger = logger
	return nil
}

// New creates a Logger from the given configuration.
func New(cfg Config) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 7
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	logger := &Logger{logDir: cfg.Path}

	var output io.Writer = os.Stderr
	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("creating log dir: %w", err)
		}
		f, err := os.OpenFile(logger.currentLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		logger.file = f
		output = f

		go logger.cleanOldLogs(cfg.RetentionDays)
	}

	if cfg.Format == "text" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		}
	}

	logger.zl = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, nil
}

// currentLogPath returns the log file path for today.
func (l *Logger) currentLogPath() string {
	filename := fmt.Sprintf("tabmind-%s.log", time.Now().Format("2006-01-02"))
	return filepath.Join(l.logDir, filename)
}

// cleanOldLogs removes log files older than retention days.
func (l *Logger) cleanOldLogs(retentionDays int) {
	if l.logDir == "" {
		return
	}

	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "tabmind-") || !strings.HasSuffix(name, ".log") {
			continue
		}

		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, "tabmind-"), ".log")
		logDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}

		if logDate.Before(cutoff) {
			_ = os.Remove(filepath.Join(l.logDir, name))
		}
	}
}

// WithComponent returns a Logger with the component field set.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		zl:        l.zl.With().Str("component", component).Logger(),
		component: component,
		logDir:    l.logDir,
		file:      l.file,
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }

// Info logs an info message.
func (l *Logger) Info(msg string) { l.zl.Info().Msg(msg) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string) { l.zl.Warn().Msg(msg) }

// Error logs an error message.
func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...any) { l.zl.Info().Msgf(format, args...) }

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...any) { l.zl.Warn().Msgf(format, args...) }

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// DebugCtx logs a debug message with structured fields.
func (l *Logger) DebugCtx(msg string, fields map[string]any) {
	event := l.zl.Debug()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// InfoCtx logs an info message with structured fields.
func (l *Logger) InfoCtx(msg string, fields map[string]any) {
	event := l.zl.Info()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// WarnCtx logs a warning message with structured fields.
func (l *Logger) WarnCtx(msg string, fields map[string]any) {
	event := l.zl.Warn()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// ErrorCtx logs an error message with structured fields.
func (l *Logger) ErrorCtx(msg string, fields map[string]any) {
	event := l.zl.Error()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Err logs an error with the error field attached.
func (l *Logger) Err(err error) *zerolog.Event {
	return l.zl.Error().Err(err)
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Get returns the global logger, falling back to stderr if uninitialized.
func Get() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return &Logger{
			zl: zerolog.New(os.Stderr).With().Timestamp().Logger(),
		}
	}
	return globalLogger
}

// Component returns a logger tagged with the given component.
func Component(name string) *Logger {
	return Get().WithComponent(name)
}

func parseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}
