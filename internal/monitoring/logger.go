// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logf is the package-level diagnostic logger used by the fitting core. It
// defaults to a zap sugared logger at info level and may be replaced by
// SetLogger. Tests or embedding runtimes can redirect or mute it.
var Logf func(format string, v ...interface{}) = NewZapLogger(zapcore.InfoLevel).Infof

// Debugf carries per-frame and per-sample detail. It is silent until a
// logger is installed with UseZap or SetDebugLogger.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetDebugLogger replaces the debug logger. Passing nil silences it.
func SetDebugLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Debugf = func(string, ...interface{}) {}
		return
	}
	Debugf = f
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// NewZapLogger returns a console-encoded sugared logger writing to stderr.
// Stacktraces are disabled since per-frame errors are expected and noisy.
func NewZapLogger(level zapcore.Level) *zap.SugaredLogger {
	cfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		DisableStacktrace: true,
		DisableCaller:     true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar().Named("planefit")
}

// UseZap routes Logf through the given zap logger at info level and Debugf
// at debug level, so the logger's level decides whether detail is kept.
func UseZap(logger *zap.SugaredLogger) {
	if logger == nil {
		SetLogger(nil)
		SetDebugLogger(nil)
		return
	}
	SetLogger(logger.Infof)
	SetDebugLogger(logger.Debugf)
}

// Or returns f when non-nil and the package logger otherwise. Components
// take an optional logger in their dependencies and resolve it through Or.
func Or(f func(format string, v ...interface{})) func(format string, v ...interface{}) {
	if f != nil {
		return f
	}
	return func(format string, v ...interface{}) { Logf(format, v...) }
}

// OrDebug is Or for the debug logger.
func OrDebug(f func(format string, v ...interface{})) func(format string, v ...interface{}) {
	if f != nil {
		return f
	}
	return func(format string, v ...interface{}) { Debugf(format, v...) }
}
