package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except critical errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   false,
		})
	}

	switch config.Level {
	case LogLevelQuiet:
		logger.SetLevel(logrus.ErrorLevel)
	case LogLevelNormal:
		logger.SetLevel(logrus.InfoLevel)
	case LogLevelVerbose:
		logger.SetLevel(logrus.DebugLevel)
	case LogLevelDebug:
		logger.SetLevel(logrus.TraceLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}

		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stdout, file))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, file))
		}
	}

	return &Logger{
		logger: logger,
		level:  config.Level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	config := Config{
		Level:      LogLevelNormal,
		Output:     os.Stdout,
		Format:     "text",
		ShowCaller: false,
	}

	logger, _ := NewLogger(config)
	return logger
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// WithOrg returns a logger entry scoped to a tenant organization
func (l *Logger) WithOrg(orgID string) *logrus.Entry {
	return l.logger.WithField("org_id", orgID)
}

// Domain operation logging methods

// LogDiscovery logs a schema discovery run
func (l *Logger) LogDiscovery(orgID string, tableCount int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":   "schema_discovery",
		"org_id":      orgID,
		"table_count": tableCount,
		"duration":    duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Schema discovery failed")
	} else {
		l.logger.WithFields(fields).Info("Schema discovery completed")
	}
}

// LogExtraction logs a table extraction during backup creation
func (l *Logger) LogExtraction(orgID, table string, rows int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "data_extraction",
		"org_id":    orgID,
		"table":     table,
		"rows":      rows,
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Table extraction failed")
	} else {
		l.logger.WithFields(fields).Debug("Table extracted")
	}
}

// LogPackaging logs archive packaging operations
func (l *Logger) LogPackaging(orgID, backupID string, sizeBytes int64, encrypted bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":  "packaging",
		"org_id":     orgID,
		"backup_id":  backupID,
		"size_bytes": sizeBytes,
		"encrypted":  encrypted,
		"duration":   duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Archive packaging failed")
	} else {
		l.logger.WithFields(fields).Info("Archive packaged")
	}
}

// LogBackupLifecycle logs backup status transitions
func (l *Logger) LogBackupLifecycle(orgID, backupID, fromStatus, toStatus string) {
	l.logger.WithFields(logrus.Fields{
		"operation": "backup_lifecycle",
		"org_id":    orgID,
		"backup_id": backupID,
		"from":      fromStatus,
		"to":        toStatus,
	}).Info("Backup status changed")
}

// LogRestoreLifecycle logs restore status transitions
func (l *Logger) LogRestoreLifecycle(orgID, restoreID, fromStatus, toStatus string) {
	l.logger.WithFields(logrus.Fields{
		"operation":  "restore_lifecycle",
		"org_id":     orgID,
		"restore_id": restoreID,
		"from":       fromStatus,
		"to":         toStatus,
	}).Info("Restore status changed")
}

// LogCycleBreak logs a dependency cycle broken during ordering
func (l *Logger) LogCycleBreak(child, parent string) {
	l.logger.WithFields(logrus.Fields{
		"operation": "dependency_resolution",
		"child":     child,
		"parent":    parent,
	}).Warn("Foreign key cycle broken")
}

// LogScheduleRun logs a scheduled backup dispatch
func (l *Logger) LogScheduleRun(orgID, scheduleID string, nextRun time.Time, err error) {
	fields := logrus.Fields{
		"operation":   "schedule_dispatch",
		"org_id":      orgID,
		"schedule_id": scheduleID,
		"next_run_at": nextRun.Format(time.RFC3339),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Scheduled backup dispatch failed")
	} else {
		l.logger.WithFields(fields).Info("Scheduled backup dispatched")
	}
}

// Standard logging methods

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	switch level {
	case LogLevelQuiet:
		l.logger.SetLevel(logrus.ErrorLevel)
	case LogLevelNormal:
		l.logger.SetLevel(logrus.InfoLevel)
	case LogLevelVerbose:
		l.logger.SetLevel(logrus.DebugLevel)
	case LogLevelDebug:
		l.logger.SetLevel(logrus.TraceLevel)
	}
}
