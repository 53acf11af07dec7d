// Package logger provides the structured logger shared by the server and its addons.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingConfig describes how a Logger writes its entries.
type LoggingConfig struct {
	// Level is a logrus level name; case is ignored ("INFO", "warn").
	Level string
	// Format is "text" or "json".
	Format string
	// Output selects the console stream: "stdout" (default), "stderr" or "none".
	Output string
	// File, when set, receives a copy of every entry. The file is opened in append mode.
	File string
}

// Logger wraps a logrus logger and owns the log file it may have opened.
type Logger struct {
	*logrus.Logger

	file *os.File
}

// New builds a Logger from cfg.
func New(cfg LoggingConfig) (*Logger, error) {
	l := logrus.New()

	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	l.SetLevel(parsed)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var console io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		console = os.Stdout
	case "stderr":
		console = os.Stderr
	case "none":
		console = io.Discard
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	out := &Logger{Logger: l}
	if cfg.File == "" {
		l.SetOutput(console)
		return out, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	out.file = f
	l.SetOutput(io.MultiWriter(console, f))
	return out, nil
}

// NewDefault returns an info-level text logger on stdout tagged with component name.
func NewDefault(name string) *Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	if name != "" {
		l.AddHook(componentHook{name: name})
	}
	return &Logger{Logger: l}
}

// Wrap adopts an existing logrus logger, typically a test logger.
func Wrap(l *logrus.Logger) *Logger {
	return &Logger{Logger: l}
}

// Component returns an entry tagged with the given component name.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Close releases the log file, if one was opened.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

type componentHook struct {
	name string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["component"]; !ok {
		e.Data["component"] = h.name
	}
	return nil
}
