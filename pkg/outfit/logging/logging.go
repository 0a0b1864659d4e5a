// Package logging provides the component logger used throughout outfit.
//
// Loggers are values: build one with New at the edge of the program and pass
// it (or a Named child of it) into every component constructor. There is no
// package-level logger state.
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	applier := apply.New(apply.Options{Logger: logger.Named("apply")})
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level represents a logging level.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) toCharmLevel() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures a root logger.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty disables file output.
	Path string

	// Rotation configures log file rotation.
	Rotation RotationConfig

	// Components maps component names to their log levels.
	Components map[string]string

	// ConsoleLevel enables stderr output at the given level. Empty disables it.
	ConsoleLevel string

	// Console overrides the console destination (stderr when nil).
	Console io.Writer
}

// DefaultConfig returns a configuration writing info-level logs to DefaultLogPath.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}

// DefaultLogPath returns $XDG_STATE_HOME/outfit/outfit.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "outfit", "outfit.log")
}

// sink is shared by a root logger and every logger derived from it.
type sink struct {
	mu         sync.Mutex
	closed     bool
	writer     io.WriteCloser
	level      Level
	components map[string]Level
	console    io.Writer
	consoleLvl Level
}

// Logger writes leveled, key-value structured log lines for one component.
// A nil *Logger discards everything.
type Logger struct {
	file      *log.Logger
	console   *log.Logger
	component string
	sink      *sink
}

// New builds a root logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	s := &sink{level: level, components: make(map[string]Level)}
	for comp, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		s.components[comp] = parsed
	}

	if cfg.ConsoleLevel != "" {
		consoleLvl, err := ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return nil, fmt.Errorf("parsing console level: %w", err)
		}
		s.consoleLvl = consoleLvl
		s.console = cfg.Console
		if s.console == nil {
			s.console = os.Stderr
		}
	}

	if cfg.Path != "" {
		writer, err := NewRotatingWriter(cfg.Path, cfg.Rotation)
		if err != nil {
			return nil, fmt.Errorf("creating log writer: %w", err)
		}
		s.writer = writer
	}

	return s.logger(""), nil
}

// NewWriter builds a root logger that writes every line at or above level to w.
// It is meant for tests and for embedding outfit in another program.
func NewWriter(w io.Writer, level Level) *Logger {
	s := &sink{level: level, components: make(map[string]Level), writer: nopCloser{w}}
	return s.logger("")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard, LevelError)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func (s *sink) logger(component string) *Logger {
	level := s.level
	if lvl, ok := s.components[component]; ok {
		level = lvl
	}

	var out io.Writer = io.Discard
	if s.writer != nil {
		out = s.writer
	}

	l := &Logger{
		file: log.NewWithOptions(out, log.Options{
			Level:           level.toCharmLevel(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
		component: component,
		sink:      s,
	}

	if s.console != nil {
		l.console = log.NewWithOptions(s.console, log.Options{
			Level:           s.consoleLvl.toCharmLevel(),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		})
	}
	return l
}

// Named returns a logger for a sub-component. Component level overrides from
// Config.Components apply to the full dotted name.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return nil
	}
	name := component
	if l.component != "" {
		name = l.component + "." + component
	}
	return l.sink.logger(name)
}

// With returns a logger that attaches the given key-value pairs to every line.
func (l *Logger) With(args ...interface{}) *Logger {
	if l == nil {
		return nil
	}
	child := &Logger{
		file:      l.file.With(args...),
		component: l.component,
		sink:      l.sink,
	}
	if l.console != nil {
		child.console = l.console.With(args...)
	}
	return child
}

// Component returns the logger's component name.
func (l *Logger) Component() string {
	if l == nil {
		return ""
	}
	return l.component
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }

// Info logs an info message.
func (l *Logger) Info(msg string, args ...interface{}) { l.log(LevelInfo, msg, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) { l.log(LevelWarn, msg, args...) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	if l == nil {
		return
	}
	logTo(l.file, level, msg, args...)
	if l.console != nil {
		logTo(l.console, level, msg, args...)
	}
}

func logTo(logger *log.Logger, level Level, msg string, args ...interface{}) {
	switch level {
	case LevelDebug:
		logger.Debug(msg, args...)
	case LevelInfo:
		logger.Info(msg, args...)
	case LevelWarn:
		logger.Warn(msg, args...)
	case LevelError:
		logger.Error(msg, args...)
	}
}

// Close flushes and closes the underlying log file. Calling Close on any
// logger derived from the same root closes the shared file; later writes are
// dropped by the closed writer.
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.writer == nil {
		return nil
	}
	s.closed = true
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
