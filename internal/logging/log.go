// Package logging wraps a single process-wide zap logger the way the rest
// of the translog stack expects: level-gated printf-style helpers plus a
// structured *zap.Logger for call sites that want fields.
package logging

import (
	"go.uber.org/zap"
)

// Level gates which printf-style helpers actually emit.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

var logLevel Level

var base *zap.Logger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	base = l
	zap.ReplaceGlobals(l)
}

// SetLevel changes the minimum level the printf-style helpers emit at.
func SetLevel(level Level) {
	logLevel = level
}

// L returns the structured logger for call sites that want zap fields.
func L() *zap.Logger {
	return base
}

func Debug(format string, args ...interface{}) {
	if logLevel <= DEBUG {
		zap.S().Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if logLevel <= INFO {
		zap.S().Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if logLevel <= WARNING {
		zap.S().Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if logLevel <= ERROR {
		zap.S().Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	zap.S().Fatalf(format, args...)
}
