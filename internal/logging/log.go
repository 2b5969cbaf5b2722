// Package logging provides the structured logger used throughout the history
// subsystem. It is a trimmed adaptation of go-algorand's logging package: a
// logrus-backed Logger interface with per-call field attachment, minus the
// node-wide telemetry/S3 log-shipping machinery that package also carries
// (this slice has no telemetry backend to ship to).
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus severity levels under names used elsewhere in this
// codebase.
type Level uint32

const (
	Panic Level = iota
	Fatal
	Error
	Warn
	Info
	Debug
)

func (l Level) toLogrusLevel() logrus.Level {
	return logrus.Level(l)
}

// Fields is a re-export of logrus.Fields so callers don't need to import
// logrus directly.
type Fields = logrus.Fields

// Logger is the logging interface used by every package in this module.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	// With returns a derived Logger carrying one extra field on every
	// subsequent entry.
	With(key string, value interface{}) Logger
	WithFields(fields Fields) Logger

	SetLevel(level Level)
	SetOutput(w io.Writer)
	IsLevelEnabled(level Level) bool
}

type logger struct {
	entry *logrus.Entry
}

// NewLogger creates a standalone Logger writing to stderr at Warn level,
// matching the teacher's default.
func NewLogger() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(Warn.toLogrusLevel())
	return logger{entry: logrus.NewEntry(l)}
}

func (l logger) With(key string, value interface{}) Logger {
	return logger{entry: l.entry.WithField(key, value)}
}

func (l logger) WithFields(fields Fields) Logger {
	return logger{entry: l.entry.WithFields(fields)}
}

func (l logger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l logger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l logger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l logger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l logger) SetLevel(level Level)          { l.entry.Logger.SetLevel(level.toLogrusLevel()) }
func (l logger) SetOutput(w io.Writer)         { l.entry.Logger.SetOutput(w) }
func (l logger) IsLevelEnabled(level Level) bool {
	return l.entry.Logger.IsLevelEnabled(level.toLogrusLevel())
}

var (
	baseLogger Logger
	once       sync.Once
)

// Init sets up the package-level base logger. Safe to call more than once.
func Init() {
	once.Do(func() {
		baseLogger = NewLogger()
	})
}

func init() {
	Init()
}

// Base returns the package-level logger, for call sites that don't carry
// their own Logger handle.
func Base() Logger {
	return baseLogger
}
