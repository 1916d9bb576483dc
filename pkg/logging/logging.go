// Package logging provides a small leveled wrapper over the standard
// library's log package, gated by verbosity so CLI entry points can
// support --quiet/--verbose switches.
package logging

import (
	"log"
	"os"

	"github.com/tweag/objectsync/pkg/api"
)

// Logger wraps a *log.Logger with a verbosity gate.
type Logger struct {
	level  api.Verbosity
	logger *log.Logger
}

// New returns a Logger writing to stderr at the given verbosity.
func New(level api.Verbosity) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l.level >= api.Verbose {
		l.logger.Printf("DEBUG "+format, args...)
	}
}

func (l *Logger) Infof(format string, args ...any) {
	if l.level >= api.Normal {
		l.logger.Printf(format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Printf("WARN "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Printf("ERROR "+format, args...)
}
