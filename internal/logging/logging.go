// Package logging provides the engine's leveled, rotation-backed
// logger (via lumberjack). Every collaborator takes an explicit
// *Logger, so log destinations and levels are a constructor argument,
// not hidden global state.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger writes leveled, prefixed lines to an underlying writer. It is
// safe for concurrent use.
type Logger struct {
	mu    sync.Mutex
	out   *log.Logger
	level Level
	name  string
}

// Options configures a new Logger's sink.
type Options struct {
	// FilePath, if set, writes rotated logs there via lumberjack.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Also mirrors output to Stderr in addition to FilePath.
	AlsoStderr bool
	Level      Level
}

// New constructs a Logger named name with the given sink options. A
// zero Options writes only to stderr at LevelDebug (the zero Level).
func New(name string, opts Options) *Logger {
	var writers []io.Writer
	if opts.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    firstNonZero(opts.MaxSizeMB, 10),
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}
	if opts.AlsoStderr || opts.FilePath == "" {
		writers = append(writers, os.Stderr)
	}

	var w io.Writer = io.MultiWriter(writers...)
	return &Logger{
		out:   log.New(w, "", log.LstdFlags),
		level: opts.Level,
		name:  name,
	}
}

func firstNonZero(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func (l *Logger) log(lvl Level, format string, args ...interface{}) {
	if lvl < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("[%s] %s: %s", lvl, l.name, msg)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// With returns a child Logger sharing the same sink but scoped under a
// sub-name, e.g. logger.With("scheduler") -> "[INFO] opsloom.scheduler: ...".
func (l *Logger) With(sub string) *Logger {
	return &Logger{out: l.out, level: l.level, name: l.name + "." + sub}
}

// Nop returns a Logger that discards everything, for tests that don't
// care about log output.
func Nop() *Logger {
	return &Logger{out: log.New(io.Discard, "", 0), level: LevelError + 1, name: "nop"}
}
