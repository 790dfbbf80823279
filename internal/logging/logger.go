// Package logging wraps logrus the way the rest of this codebase's ambient
// stack wraps third-party libraries: a thin struct embedding the library
// type, a config-driven constructor, and a default for tests/bootstrap.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger so call sites depend on this package, not on
// logrus directly.
type Logger struct {
	*logrus.Logger
}

// Config mirrors the `logging` section of §6.1.
type Config struct {
	Directory string `yaml:"directory" env:"LOGGING_DIRECTORY"`
	File      string `yaml:"file" env:"LOGGING_FILE"`
	Level     string `yaml:"level" env:"LOGGING_LEVEL"`
	Retain    int    `yaml:"retain" env:"LOGGING_RETAIN"`
	MaxSizeMB int    `yaml:"max_size_mb" env:"LOGGING_MAX_SIZE_MB"`
	Name      string `yaml:"logger_name" env:"LOGGING_NAME"`
}

// New builds a Logger from a Config, writing to directory/file when both
// are set and always tee-ing to stdout so container logs still work.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{})

	if cfg.Directory != "" && cfg.File != "" {
		if mkErr := os.MkdirAll(cfg.Directory, 0o755); mkErr != nil {
			l.Errorf("create log directory %s: %v", cfg.Directory, mkErr)
		} else {
			path := filepath.Join(cfg.Directory, cfg.File)
			f, openErr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if openErr != nil {
				l.Errorf("open log file %s: %v", path, openErr)
			} else {
				l.SetOutput(io.MultiWriter(os.Stdout, f))
			}
		}
	}

	base := &Logger{Logger: l}
	if cfg.Name != "" {
		return base.withLoggerName(cfg.Name)
	}
	return base
}

func (l *Logger) withLoggerName(name string) *Logger {
	entry := l.Logger.WithField("logger", name)
	nl := logrus.New()
	nl.SetLevel(l.Logger.Level)
	nl.SetFormatter(l.Logger.Formatter)
	nl.SetOutput(l.Logger.Out)
	nl.AddHook(&staticFieldHook{entry: entry})
	return &Logger{Logger: nl}
}

type staticFieldHook struct {
	entry *logrus.Entry
}

func (h *staticFieldHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *staticFieldHook) Fire(e *logrus.Entry) error {
	for k, v := range h.entry.Data {
		if _, ok := e.Data[k]; !ok {
			e.Data[k] = v
		}
	}
	return nil
}

// NewDefault builds a Logger suitable for tests and early bootstrap, before
// configuration has been loaded.
func NewDefault(name string) *Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	base := &Logger{Logger: l}
	if name == "" {
		return base
	}
	return base.withLoggerName(name)
}

// Component returns a child logger tagging every entry with a component
// name; actor subsystems (kernel, ticker, rpc, ...) each get one of these
// instead of reaching for a shared global.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.Logger.WithField("component", strings.ToLower(name))
}
