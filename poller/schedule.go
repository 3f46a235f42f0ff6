package poller

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// every fires at a fixed period measured from the previous activation.
// cron's own @every rounds down to whole seconds, the touch sensor polls
// every 500ms.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

var _ cron.Schedule = every(0)

// cronLogger adapts zap to cron.Logger. Routine scheduler chatter only
// shows up when verbose is set.
type cronLogger struct {
	logger  *zap.SugaredLogger
	verbose bool
}

func newCronLogger(logger *zap.Logger, verbose bool) cron.Logger {
	return cronLogger{logger: logger.Sugar(), verbose: verbose}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.verbose {
		l.logger.Debugw(msg, keysAndValues...)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
