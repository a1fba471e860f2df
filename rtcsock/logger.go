//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Bridge between pion logging and log/slog.
//

package rtcsock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// loggerFactory implements [logging.LoggerFactory] using [*slog.Logger].
type loggerFactory struct {
	// logger is the possibly nil logger.
	logger *slog.Logger
}

var _ logging.LoggerFactory = &loggerFactory{}

// NewLogger implements [logging.LoggerFactory].
func (lf *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{logger: lf.logger, scope: scope}
}

// pionLogger implements [logging.LeveledLogger] using [*slog.Logger].
//
// We ignore trace messages, which are too verbose.
type pionLogger struct {
	logger *slog.Logger
	scope  string
}

var _ logging.LeveledLogger = &pionLogger{}

// log emits a message at the given level.
func (pl *pionLogger) log(level slog.Level, msg string) {
	if pl.logger != nil {
		pl.logger.Log(context.Background(), level, "webrtc: "+msg, slog.String("scope", pl.scope))
	}
}

func (pl *pionLogger) Trace(msg string) {}

func (pl *pionLogger) Tracef(format string, args ...interface{}) {}

func (pl *pionLogger) Debug(msg string) {
	pl.log(slog.LevelDebug, msg)
}

func (pl *pionLogger) Debugf(format string, args ...interface{}) {
	pl.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}

func (pl *pionLogger) Info(msg string) {
	pl.log(slog.LevelInfo, msg)
}

func (pl *pionLogger) Infof(format string, args ...interface{}) {
	pl.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}

func (pl *pionLogger) Warn(msg string) {
	pl.log(slog.LevelWarn, msg)
}

func (pl *pionLogger) Warnf(format string, args ...interface{}) {
	pl.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}

func (pl *pionLogger) Error(msg string) {
	pl.log(slog.LevelError, msg)
}

func (pl *pionLogger) Errorf(format string, args ...interface{}) {
	pl.log(slog.LevelError, fmt.Sprintf(format, args...))
}
