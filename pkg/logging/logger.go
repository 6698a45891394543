package logging

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const serviceName = "deeptracy-api"

// LogLevel represents logging levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// NewLogger creates and configures a new structured logger writing to stdout
func NewLogger(level LogLevel) *logrus.Logger {
	return NewLoggerWithOutput(level, os.Stdout)
}

// NewLoggerWithOutput creates a structured logger writing to out
func NewLoggerWithOutput(level LogLevel, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	logger.SetLevel(parseLogLevel(level))
	logger.AddHook(serviceHook{})

	return logger
}

// NewNopLogger returns a logger that discards everything, for tests
func NewNopLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// serviceHook stamps every entry with the service name
type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (serviceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = serviceName
	return nil
}

// parseLogLevel converts string log level to logrus.Level
func parseLogLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelInfo:
		return logrus.InfoLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// LogStartup logs service startup information
func LogStartup(logger *logrus.Logger, version string, port int) {
	logger.WithFields(logrus.Fields{
		"event":   "startup",
		"version": version,
		"port":    port,
	}).Info("deeptracy api starting")
}

// LogConfigurationLoaded logs successful configuration loading
func LogConfigurationLoaded(logger *logrus.Logger, configPath string, providers int) {
	logger.WithFields(logrus.Fields{
		"event":       "configuration_loaded",
		"config_path": configPath,
		"providers":   providers,
	}).Info("Configuration loaded successfully")
}

// LogShutdownInitiated logs when shutdown is initiated
func LogShutdownInitiated(logger *logrus.Logger, reason string) {
	logger.WithFields(logrus.Fields{
		"event":  "shutdown_initiated",
		"reason": reason,
	}).Warn("Shutdown initiated")
}

// LogShutdownComplete logs when shutdown completes
func LogShutdownComplete(logger *logrus.Logger, duration float64) {
	logger.WithFields(logrus.Fields{
		"event":            "shutdown_complete",
		"duration_seconds": duration,
	}).Info("Shutdown complete")
}

// NewRequestID returns a fresh request identifier
func NewRequestID() string {
	return uuid.NewString()
}

// LogWithRequestID returns a logger with request ID field
func LogWithRequestID(logger *logrus.Logger, requestID string) *logrus.Entry {
	return logger.WithField("request_id", requestID)
}
