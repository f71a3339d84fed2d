// Package logging provides the process-wide logger used across chatpad.
// It wraps logrus so packages import one alias (`log`) instead of wiring
// their own loggers, and supports rotating file output for long-running
// editor sessions.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// Configure applies level and optional file output. An empty file keeps
// stderr. Rotation limits are fixed; the log is diagnostic, not an archive.
func Configure(level, file string) {
	logger.SetLevel(parseLevel(level))
	if file == "" {
		return
	}
	rotated := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, rotated))
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetOutput redirects log output. Used by tests to silence the logger.
func SetOutput(w io.Writer) { logger.SetOutput(w) }

func Debug(args ...any)                 { logger.Debug(args...) }
func Info(args ...any)                  { logger.Info(args...) }
func Warn(args ...any)                  { logger.Warn(args...) }
func Error(args ...any)                 { logger.Error(args...) }
func Debugf(format string, args ...any) { logger.Debugf(format, args...) }
func Infof(format string, args ...any)  { logger.Infof(format, args...) }
func Warnf(format string, args ...any)  { logger.Warnf(format, args...) }
func Errorf(format string, args ...any) { logger.Errorf(format, args...) }
