package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the CLI logger. Console output is meant for a human at a terminal,
// json output for the serve command running under a supervisor.
// Stack traces are only attached to fatal entries in both modes.
func New(json bool, debug bool, fields ...zap.Field) (*zap.Logger, error) {
	return newConfig(json, debug).Build(
		zap.AddStacktrace(zapcore.FatalLevel),
		zap.Fields(fields...),
	)
}

func newConfig(json bool, debug bool) zap.Config {
	level := zapcore.InfoLevel
	encoding := "console"

	if json {
		encoding = "json"
	}

	if debug {
		level = zapcore.DebugLevel
	}

	return zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "step",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.RFC3339TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,

			NameKey:    "component",
			EncodeName: zapcore.FullNameEncoder,

			EncodeDuration: zapcore.StringDurationEncoder,
		},
	}
}
