// Package logger wraps logrus with the configuration knobs used across the
// service (level, format, output sink).
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls how a Logger is built.
type LoggingConfig struct {
	Level      string
	Format     string // json or text
	Output     string // stdout, stderr or file
	FilePrefix string
}

// Logger is a logrus logger tagged with a component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from cfg. Invalid values fall back to info/text/stdout.
func New(cfg LoggingConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l.SetOutput(openOutput(cfg))
	return &Logger{Logger: l}
}

// NewDefault returns an info-level text logger for the named component.
func NewDefault(component string) *Logger {
	log := New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	log.component = component
	return log
}

// Discard returns a logger that drops every entry. Used by tests.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l}
}

// Named returns a copy of the logger tagged with another component name. The
// underlying logrus instance is shared.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

// Component reports the component name, if any.
func (l *Logger) Component() string {
	return l.component
}

// WithField shadows logrus.Logger.WithField so the component tag is carried.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.base().WithField(key, value)
}

// WithFields shadows logrus.Logger.WithFields so the component tag is carried.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.base().WithFields(fields)
}

// WithError shadows logrus.Logger.WithError so the component tag is carried.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.base().WithError(err)
}

func (l *Logger) base() *logrus.Entry {
	entry := logrus.NewEntry(l.Logger)
	if l.component != "" {
		entry = entry.WithField("component", l.component)
	}
	return entry
}

func openOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "clothbridge"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		if dir := filepath.Dir(prefix); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: open %s: %v, using stdout\n", name, err)
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}
