// Package pionlog routes pion's internal logging into slog.
package pionlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace sits below slog.LevelDebug; pion's trace output is very chatty.
const LevelTrace = slog.LevelDebug - 4

// Factory implements logging.LoggerFactory. Each pion subsystem gets a child
// logger tagged with its scope.
type Factory struct {
	log *slog.Logger
}

func NewFactory(root *slog.Logger) *Factory {
	if root == nil {
		root = slog.Default()
	}
	return &Factory{log: root.With("component", "pion")}
}

func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return Logger{log: f.log.With("scope", scope)}
}

// Logger implements logging.LeveledLogger.
type Logger struct {
	log *slog.Logger
}

func (l Logger) logf(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}
	l.log.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (l Logger) Trace(msg string)                          { l.log.Log(context.Background(), LevelTrace, msg) }
func (l Logger) Tracef(format string, args ...interface{}) { l.logf(LevelTrace, format, args...) }
func (l Logger) Debug(msg string)                          { l.log.Debug(msg) }
func (l Logger) Debugf(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args...) }
func (l Logger) Info(msg string)                           { l.log.Info(msg) }
func (l Logger) Infof(format string, args ...interface{})  { l.logf(slog.LevelInfo, format, args...) }
func (l Logger) Warn(msg string)                           { l.log.Warn(msg) }
func (l Logger) Warnf(format string, args ...interface{})  { l.logf(slog.LevelWarn, format, args...) }
func (l Logger) Error(msg string)                          { l.log.Error(msg) }
func (l Logger) Errorf(format string, args ...interface{}) { l.logf(slog.LevelError, format, args...) }
