package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	logsDir           = "logs"
	fileBufferSize    = 32 * 1024
	consoleBufferSize = 4096
)

type Options struct {
	// Level is a logrus level name. LOG_LEVEL overrides it when set.
	Level string
	// File is a file name under logs/. Empty logs to stdout only.
	File string
}

// NewLogger builds the JSON logger shared by every component. The returned closer flushes
// the asynchronous writers and must be called on shutdown.
func NewLogger(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})
	logger.SetLevel(parseLevel(opts.Level))

	if opts.File == "" {
		logger.SetOutput(os.Stdout)
		return logger, nopCloser{}, nil
	}

	logFile := filepath.Clean(filepath.Join(logsDir, opts.File))
	if !strings.HasPrefix(logFile, logsDir+string(filepath.Separator)) {
		return nil, nil, fmt.Errorf("invalid log file path %q: must be in %s directory", opts.File, logsDir)
	}
	if err := os.MkdirAll(logsDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("create logs directory: %w", err)
	}
	fileWriter, err := NewAsyncFileWriter(logFile, fileBufferSize)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize async log writer: %w", err)
	}
	logger.SetOutput(fileWriter)

	consoleHook := NewAsyncConsoleHook(consoleBufferSize)
	logger.AddHook(consoleHook)

	return logger, closers{consoleHook, fileWriter}, nil
}

func parseLevel(level string) logrus.Level {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closers []io.Closer

func (c closers) Close() error {
	for _, cl := range c {
		_ = cl.Close()
	}
	return nil
}
