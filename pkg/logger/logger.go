// Package logger provides the process-wide leveled logger backed by zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	globalLogger = zerolog.Nop()
	logWriter    io.Writer = io.Discard
	logFile      *os.File
	level        = zerolog.DebugLevel
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	// Create log file
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	setWriter(f)

	return nil
}

// InitWriter sends log output to w. A terminal-friendly console format is
// used when console is true.
func InitWriter(w io.Writer, console bool) {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	setWriter(w)
}

func setWriter(w io.Writer) {
	logWriter = w
	globalLogger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// SetLevel sets the minimum level by name (debug, info, warn, error).
func SetLevel(name string) error {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.DebugLevel
	}

	mu.Lock()
	defer mu.Unlock()
	level = lvl
	globalLogger = globalLogger.Level(lvl)
	return nil
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = zerolog.Nop()
	logWriter = io.Discard
}

func current() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	l := current()
	l.Info().Msgf(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	l := current()
	l.Debug().Msgf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	l := current()
	l.Error().Msgf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	l := current()
	l.Warn().Msgf(format, v...)
}

// Timed logs how long an operation took at debug level.
func Timed(op string, start time.Time) {
	l := current()
	l.Debug().Dur("elapsed", time.Since(start)).Msg(op)
}

// GetWriter returns the underlying writer for use by drivers.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return logWriter
}
