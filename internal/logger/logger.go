// Package logger provides level-gated, fixed-column logging for every module
// of the wrapper.
//
// Each entry is one line:
//
//	2006-01-02 15:04:05.000 | MODULE       | ACTION                 | LEVEL | message
//
// Levels (lowest to highest): debug, info, warn, error.
//
// User text must never reach a log line. Use Fingerprint to correlate an input
// across entries without revealing it:
//
//	log := logger.New("SESSION", cfg.LogLevel)
//	log.Infof("detect", "session=%s input=%s entities=%d", id, logger.Fingerprint(text), n)
package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level represents a log severity.
type Level int32

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelLabels = [...]string{"DEBUG", "INFO ", "WARN ", "ERROR"}

// Logger writes log lines for a single module. Safe for concurrent use.
type Logger struct {
	module string
	level  atomic.Int32
	out    *log.Logger
}

// New creates a Logger writing to stderr, gated at the given level string.
// Unrecognized level strings default to "info".
func New(module, level string) *Logger {
	return NewWriter(module, level, os.Stderr)
}

// NewWriter is New with an explicit destination.
func NewWriter(module, level string, w io.Writer) *Logger {
	l := &Logger{
		module: strings.ToUpper(module),
		out:    log.New(w, "", 0),
	}
	l.SetLevel(level)
	return l
}

// Discard returns a Logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewWriter("", "error", io.Discard)
}

// Named returns a Logger for another module sharing this one's level and
// destination.
func (l *Logger) Named(module string) *Logger {
	n := &Logger{module: strings.ToUpper(module), out: l.out}
	n.level.Store(l.level.Load())
	return n
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(level string) {
	lv, _ := ParseLevel(level)
	l.level.Store(int32(lv))
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	if l.enabled(LevelDebug) {
		l.Debug(action, fmt.Sprintf(format, args...))
	}
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	if l.enabled(LevelInfo) {
		l.Info(action, fmt.Sprintf(format, args...))
	}
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

func (l *Logger) enabled(level Level) bool {
	return level >= Level(l.level.Load())
}

func (l *Logger) write(level Level, action, msg string) {
	if !l.enabled(level) {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("%s | %-12s | %-22s | %s | %s", ts, l.module, action, levelLabels[level], msg)
}

// ParseLevel converts a string to a Level. The bool is false, and the level
// LevelInfo, when the string is not recognized.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

// Fingerprint summarizes user text as "len=N sha=xxxxxxxx" so log lines can be
// correlated without storing the text itself.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("len=%d sha=%s", len(s), hex.EncodeToString(sum[:4]))
}
