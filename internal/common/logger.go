package common

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	logFiles      map[string]*os.File
	logFilesMutex sync.Mutex
)

// Logger prefixes every line with the component that emitted it.
type Logger struct {
	prefix     string
	dumbLogger *logrus.Logger
}

// NewLogger builds the root logger. An empty file means stderr.
func NewLogger(level string, file string) (*Logger, error) {
	var out io.Writer = os.Stderr
	if file != "" {
		f, err := openLogFile(file)
		if err != nil {
			return nil, err
		}
		out = f
	}
	return NewWriterLogger(level, out)
}

func NewWriterLogger(level string, out io.Writer) (*Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	dumbLogger := logrus.New()
	dumbLogger.SetLevel(lvl)
	dumbLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	dumbLogger.SetOutput(out)

	return &Logger{"", dumbLogger}, nil
}

// log files are shared between loggers writing to the same path
func openLogFile(file string) (io.Writer, error) {
	logFilesMutex.Lock()
	defer logFilesMutex.Unlock()
	if logFiles == nil {
		logFiles = make(map[string]*os.File)
	}

	if f, exists := logFiles[file]; exists {
		return f, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, errors.Wrap(err, "error creating log dir")
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "error creating log file")
	}
	logFiles[file] = f
	return f, nil
}

// GetLogger derives a child logger. The prefix is printed literally, '%'
// included.
func GetLogger(prefix string, logger *Logger) *Logger {
	prefix = strings.ReplaceAll(prefix, "%", "%%")
	return &Logger{logger.prefix + "[" + prefix + "] ", logger.dumbLogger}
}

func GetDiscardLogger() *Logger {
	dumbLogger := logrus.New()
	dumbLogger.SetOutput(io.Discard)
	return &Logger{"", dumbLogger}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.dumbLogger.Debugf(l.prefix+format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.dumbLogger.Infof(l.prefix+format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.dumbLogger.Warnf(l.prefix+format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.dumbLogger.Errorf(l.prefix+format, args...)
}

func (l *Logger) Err(err error) {
	l.dumbLogger.Error(l.prefix + err.Error())
}

// Writer exposes the underlying output, used to route gin's own messages.
func (l *Logger) Writer() io.Writer {
	return l.dumbLogger.Writer()
}
