// Package log provides structured logging utilities for the GOMD mining device worker.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	// Parse log level
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithWorker returns a logger with worker-specific fields
func (l *Logger) WithWorker(name string) *Logger {
	return l.WithFields("worker", name)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(jobID string) *Logger {
	return l.WithFields("job_id", jobID)
}

// WithDevice returns a logger with device transport fields
func (l *Logger) WithDevice(port string, baudRate int) *Logger {
	return l.WithFields("device_port", port, "baud_rate", baudRate)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Dispatch-cycle logging helpers

// LogHashrate logs a measured device hashrate
func (l *Logger) LogHashrate(worker string, mhps float64) {
	l.Info("hashrate measured",
		"worker", worker,
		"mhps", mhps,
		"hashes_per_sec", mhps*1e6,
	)
}

// LogJobDispatch logs a job being sent to the device
func (l *Logger) LogJobDispatch(jobID string, interval float64) {
	l.Debug("job dispatched",
		"job_id", jobID,
		"job_interval_sec", interval,
	)
}

// LogSolution logs a nonce reported by the device
func (l *Logger) LogSolution(jobID string, nonce uint32) {
	l.Info("solution found",
		"job_id", jobID,
		"nonce", nonce,
	)
}

// LogFault logs a dispatch-cycle fault. Faults are recoverable but
// noteworthy: the dispatcher restarts the cycle after a backoff.
func (l *Logger) LogFault(worker string, err error, restarts int) {
	l.Warn("dispatch cycle fault",
		"worker", worker,
		"error", err.Error(),
		"consecutive_failures", restarts,
	)
}

// LogDeviceMessage logs raw device protocol traffic (debug level)
func (l *Logger) LogDeviceMessage(direction string, tag byte, size int) {
	l.Debug("device message",
		"direction", direction,
		"tag", tag,
		"size", size,
	)
}
