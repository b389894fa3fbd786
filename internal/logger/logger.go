package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// level maps the debug switch shared by server, worker and tagctl
func level(debugMode bool) zap.AtomicLevel {
	if debugMode {
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zap.NewAtomicLevelAt(zapcore.InfoLevel)
}

// NewProductionLogger creates the JSON logger used by the server and worker.
// Event names are snake_case messages; context goes in fields.
func NewProductionLogger(debugMode bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = level(debugMode)
	config.Encoding = "json"
	config.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	// Batch runs log many unit failures at Warn; keep stacks for Error only
	config.DisableStacktrace = false

	return config.Build()
}

// NewDevelopmentLogger creates a console logger for tagctl and local runs
func NewDevelopmentLogger(debugMode bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = level(debugMode)
	config.DisableStacktrace = true
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return config.Build()
}

// Named scopes l to a component such as "syncer" or "sidecar". A nil logger
// yields a no-op logger.
func Named(l *zap.Logger, component string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(component)
}

// Sync flushes buffered entries before exit. Errors from syncing stderr on
// some platforms are not actionable and are returned for the caller to drop.
func Sync(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	return logger.Sync()
}
