package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level is a logging severity.
type Level = logrus.Level

const (
	TraceLevel = logrus.TraceLevel
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

var std = newStd()

func newStd() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// ParseLevel parses a level name: trace, debug, info, warn, error, fatal, panic.
func ParseLevel(name string) (Level, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(name))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return lvl, nil
}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	std.SetLevel(level)
}

// GetLevel returns the global log level.
func GetLevel() Level {
	return std.GetLevel()
}

// SetOutput redirects log output. Used by tests and the MCP stdio server,
// which must keep stdout clean.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

func Trace(format string, args ...any) { std.Tracef(format, args...) }
func Debug(format string, args ...any) { std.Debugf(format, args...) }
func Info(format string, args ...any)  { std.Infof(format, args...) }
func Warn(format string, args ...any)  { std.Warnf(format, args...) }
func Error(format string, args ...any) { std.Errorf(format, args...) }

// With returns an entry carrying structured fields.
func With(fields map[string]any) *logrus.Entry {
	return std.WithFields(logrus.Fields(fields))
}
