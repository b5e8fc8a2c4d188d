// Package logging configures the harness's own log output. Test debug output does not go
// through here: it is captured per test by the framework.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// EnvLogLevel is the environment variable that sets the log level.
const EnvLogLevel = "LOG_LEVEL"

// Logger writes the harness's log output through logrus. It satisfies framework.Logger, so
// it can be given to a session or to the loop plugin.
type Logger struct {
	entry *logrus.Entry
}

// New creates a Logger that writes text lines to out. The level is parsed with
// logrus.ParseLevel; an empty level means "info". An invalid level is reported with a
// warning and also falls back to "info".
func New(out io.Writer, level string) *Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	log.SetLevel(logrus.InfoLevel)
	if level != "" {
		parsed, err := logrus.ParseLevel(strings.ToLower(level))
		if err != nil {
			log.Warnf("Invalid log level '%s', defaulting to 'info'", level)
		} else {
			log.SetLevel(parsed)
		}
	}
	return &Logger{entry: logrus.NewEntry(log)}
}

// FromEnv creates a Logger whose level comes from LOG_LEVEL. If debug is true the level is
// at least "debug" whatever the variable says.
func FromEnv(out io.Writer, lookup func(string) (string, bool), debug bool) *Logger {
	level, _ := lookup(EnvLogLevel)
	l := New(out, level)
	if debug && !l.entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Printf logs a message at debug level.
func (l *Logger) Printf(message string, args ...interface{}) {
	l.entry.Debugf(message, args...)
}

// Infof logs a message at info level.
func (l *Logger) Infof(message string, args ...interface{}) {
	l.entry.Infof(message, args...)
}

// WithComponent returns a Logger that tags every message with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{entry: l.entry.WithField("component", name)}
}

// Level returns the current log level.
func (l *Logger) Level() logrus.Level {
	return l.entry.Logger.GetLevel()
}
