// Package logging configures the zerolog logger shared by all VoiceDesk
// components. Console output is human readable during development; file
// output stays JSON so transcripts of a session can be replayed later.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity ("debug", "info", "warn", "error").
	Level string

	// FilePath, when set, appends JSON log lines to this file in addition
	// to console output.
	FilePath string

	// Pretty enables the human-readable console writer.
	Pretty bool
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Pretty: true,
	}
}

var (
	globalMu     sync.RWMutex
	globalLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	globalFile   *os.File
)

// Setup builds the global logger from cfg and installs it. It returns the
// logger so callers can hold a copy.
func Setup(cfg *Config) (zerolog.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		})
	} else {
		writers = append(writers, os.Stderr)
	}

	var file *os.File
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return zerolog.Nop(), fmt.Errorf("create log directory: %w", err)
		}
		file, err = os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	globalMu.Lock()
	if globalFile != nil {
		globalFile.Close()
	}
	globalFile = file
	globalLogger = logger
	globalMu.Unlock()

	return logger, nil
}

// Global returns the installed logger.
func Global() zerolog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Global().With().Str("component", name).Logger()
}

// Close releases the log file, if one was opened.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalFile == nil {
		return nil
	}
	err := globalFile.Close()
	globalFile = nil
	return err
}

// DetachWithTimeout derives a context that survives cancellation of its
// parent but carries its own deadline. Transcript persistence uses it so a
// barge-in cannot drop the record of the turn it interrupted.
func DetachWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
