package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Name is attached to every record so lines from the browser and the server can be told apart.
const Name = "autoapply"

// New builds the process logger. JSON encoding is used for `serve` and CI, console for interactive runs.
func New(json bool, debug bool) (*zap.Logger, error) {
	logger, err := config(json, debug).Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(Name), nil
}

func config(json bool, debug bool) zap.Config {
	level := zapcore.InfoLevel
	encoding := "console"
	if json {
		encoding = "json"
	}
	if debug {
		level = zapcore.DebugLevel
	}

	encoder := zapcore.EncoderConfig{
		MessageKey: "event",
		NameKey:    "component",

		LevelKey:    "level",
		EncodeLevel: zapcore.LowercaseLevelEncoder,

		TimeKey:        "time",
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,

		CallerKey:    "caller",
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	if !json {
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zap.Config{
		Encoding:          encoding,
		Level:             zap.NewAtomicLevelAt(level),
		Development:       debug,
		DisableStacktrace: !debug,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		EncoderConfig:     encoder,
	}
}
