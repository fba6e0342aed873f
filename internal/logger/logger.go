// Package logger provides a minimal leveled logger used throughout the
// proxy, backed by a single package-level default instance reached through
// the free functions (Debug/Info/Warn/Error).
package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *logger
	once          sync.Once
)

// logger is a leveled logger instance; level is mutable at runtime via
// SetLogLevel, guarded by mu since requests log concurrently.
type logger struct {
	level LogLevel
	mu    sync.RWMutex
}

// getDefaultLogger returns the singleton default logger.
func getDefaultLogger() *logger {
	once.Do(func() {
		defaultLogger = &logger{level: INFO}
	})
	return defaultLogger
}

// ParseLogLevel converts a level name to a LogLevel, defaulting to INFO for
// anything unrecognized.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the global default log level.
func SetLogLevel(level string) {
	l := getDefaultLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

func (l *logger) shouldLog(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func logMessage(level string, format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	log.Printf("[%s] %s", level, message)
}

// Debug logs a debug-level message through the default logger.
func Debug(format string, v ...interface{}) {
	if getDefaultLogger().shouldLog(DEBUG) {
		logMessage("DEBUG", format, v...)
	}
}

// Info logs an info-level message through the default logger.
func Info(format string, v ...interface{}) {
	if getDefaultLogger().shouldLog(INFO) {
		logMessage("INFO", format, v...)
	}
}

// Warn logs a warning-level message through the default logger.
func Warn(format string, v ...interface{}) {
	if getDefaultLogger().shouldLog(WARN) {
		logMessage("WARN", format, v...)
	}
}

// Error logs an error-level message through the default logger.
func Error(format string, v ...interface{}) {
	if getDefaultLogger().shouldLog(ERROR) {
		logMessage("ERROR", format, v...)
	}
}
