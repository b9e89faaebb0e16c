package utils

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	Logger   *logrus.Logger
	loggerMu sync.Mutex
)

// InitLogger initializes the global logger
func InitLogger(level, format, output, file string) error {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return NewAppError(ErrCodeConfiguration, "Invalid log level", level)
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: logTimestampFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: logTimestampFormat,
		})
	}

	var out io.Writer = os.Stdout
	switch output {
	case "file":
		if file == "" {
			return NewAppError(ErrCodeConfiguration, "Log file path is required for file output", "")
		}
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return NewAppError(ErrCodeConfiguration, "Failed to create log directory", err.Error())
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return NewAppError(ErrCodeConfiguration, "Failed to open log file", err.Error())
		}
		out = f
	case "stderr":
		out = os.Stderr
	}
	logger.SetOutput(out)

	loggerMu.Lock()
	Logger = logger
	loggerMu.Unlock()

	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	loggerMu.Lock()
	initialized := Logger != nil
	loggerMu.Unlock()

	if !initialized {
		// Initialize with defaults if not already initialized
		_ = InitLogger("info", "json", "stdout", "")
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	return Logger
}

// ComponentLogger returns an entry tagged with the component name.
func ComponentLogger(component string) *logrus.Entry {
	return GetLogger().WithField("component", component)
}
