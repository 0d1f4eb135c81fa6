/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"go.uber.org/zap"
)

// LogLevel selects how chatty a Logger is. It mirrors upstream wireguard-go's
// three-level scheme even though only two are wired to the zap backend below
// (Silent suppresses both).
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelVerbose
)

// Logger is the two-level (verbose/error) logging facade the device and peer
// packet-plane code calls throughout. It wraps a zap.SugaredLogger rather
// than the standard library's log package, matching the structured-logging
// convention used elsewhere in the reference corpus.
type Logger struct {
	level    LogLevel
	sugar    *zap.SugaredLogger
	Verbosef func(format string, args ...any)
	Errorf   func(format string, args ...any)
}

func NewLogger(level LogLevel, prepend string) *Logger {
	zapLevel := zap.ErrorLevel
	if level == LogLevelVerbose {
		zapLevel = zap.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.DisableStacktrace = true
	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}
	if prepend != "" {
		base = base.Named(prepend)
	}
	sugar := base.Sugar()

	logger := &Logger{level: level, sugar: sugar}
	logger.Verbosef = func(format string, args ...any) {
		if logger.level >= LogLevelVerbose {
			sugar.Debugf(format, args...)
		}
	}
	logger.Errorf = func(format string, args ...any) {
		if logger.level >= LogLevelError {
			sugar.Errorf(format, args...)
		}
	}
	return logger
}
