// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps a zap logger behind printf-style package functions so callers never
// hold a logger instance.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu            sync.RWMutex
	defaultLogger = zap.NewNop().Sugar()
)

// parseLevel maps a config string to a zap level, defaulting to info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format ("json" or "text").
func Init(level string, format string) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.LevelKey = "log_level"

	var enc zapcore.Encoder
	if strings.ToLower(format) == "text" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(parseLevel(level)))
	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	defaultLogger = l.Sugar()
	mu.Unlock()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	current().Infof(format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// Fatal logs a message and exits
func Fatal(format string, args ...interface{}) {
	l := current()
	l.Errorf("[FATAL] "+format, args...)
	_ = l.Sync()
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}

// Sync flushes buffered entries.
func Sync() {
	_ = current().Sync()
}
