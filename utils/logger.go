package utils

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// ServiceName is attached to every log line
const ServiceName = "auction-tracker"

// logger is the shared base entry; every helper below derives from it
var logger = log.NewEntry(log.StandardLogger()).WithField("service", ServiceName)

// init initializes the global logger configuration when the package is imported.
func init() {
	// JSON with ISO 8601 timestamps
	log.SetFormatter(&log.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

// SetLogLevel changes the global level; unknown names keep the current level
func SetLogLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		Warn("unknown log level, keeping current", map[string]any{"level": level})
		return
	}
	log.SetLevel(lvl)
}

// SetLogOutput redirects log output, mostly for tests
func SetLogOutput(w io.Writer) {
	log.SetOutput(w)
}

// Debug logs a message at debug level with optional fields
func Debug(message string, fields map[string]any) {
	logger.WithFields(fields).Debug(message)
}

// Info logs a message at info level with optional fields
func Info(message string, fields map[string]any) {
	logger.WithFields(fields).Info(message)
}

// Warn logs a message at warning level with optional fields
func Warn(message string, fields map[string]any) {
	logger.WithFields(fields).Warn(message)
}

// Error logs a message at error level with optional fields
func Error(message string, fields map[string]any) {
	logger.WithFields(fields).Error(message)
}

// Fatal logs a message at fatal level and exits the application
func Fatal(message string, fields map[string]any) {
	logger.WithFields(fields).Fatal(message)
}
