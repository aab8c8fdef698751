package eksr

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled, field-tagged logging surface used throughout
// the module. ChildLogger derives a logger carrying extra context
// fields; SetDebug toggles the per-frame and state-transition tracing
// that is too chatty for normal operation.
type Logger interface {
	Info(...interface{})
	Debug(...interface{})
	Error(...interface{})
	Warn(...interface{})

	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Warnf(string, ...interface{})

	ChildLogger(tags map[string]interface{}) Logger
	SetDebug(on bool)
}

var (
	logger   Logger
	loggerMu sync.Mutex
)

// SetLogger replaces the package logger, e.g. to route output into a
// host application's own logging.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

func GetLogger() Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if logger == nil {
		logger = newLogrusLogger()
	}

	return logger
}

// logrusLogger is the default Logger, a thin skin over a logrus entry.
type logrusLogger struct {
	*logrus.Entry
}

func newLogrusLogger() Logger {
	l := &logrus.Logger{
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Level:     logrus.InfoLevel,
		Out:       os.Stderr,
		Hooks:     make(logrus.LevelHooks),
	}

	return &logrusLogger{Entry: l.WithFields(logrus.Fields{})}
}

func (d *logrusLogger) ChildLogger(ff map[string]interface{}) Logger {
	return &logrusLogger{d.Entry.WithFields(ff)}
}

// SetDebug changes the level of the shared underlying logger, so it
// affects every child derived from it as well.
func (d *logrusLogger) SetDebug(on bool) {
	lvl := logrus.InfoLevel
	if on {
		lvl = logrus.DebugLevel
	}
	d.Entry.Logger.SetLevel(lvl)
}
