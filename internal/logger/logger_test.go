package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestConfigLevelsAndEncoding(t *testing.T) {
	tests := []struct {
		name       string
		json       bool
		debug      bool
		encoding   string
		level      zapcore.Level
		stacktrace bool
	}{
		{name: "interactive", encoding: "console", level: zapcore.InfoLevel},
		{name: "serve", json: true, encoding: "json", level: zapcore.InfoLevel},
		{name: "debugging", debug: true, encoding: "console", level: zapcore.DebugLevel, stacktrace: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config(tt.json, tt.debug)
			if cfg.Encoding != tt.encoding {
				t.Fatalf("encoding = %q, want %q", cfg.Encoding, tt.encoding)
			}
			if got := cfg.Level.Level(); got != tt.level {
				t.Fatalf("level = %s, want %s", got, tt.level)
			}
			if cfg.DisableStacktrace == tt.stacktrace {
				t.Fatalf("stacktrace enabled = %t, want %t", !cfg.DisableStacktrace, tt.stacktrace)
			}
			if cfg.EncoderConfig.MessageKey != "event" || cfg.EncoderConfig.NameKey != "component" {
				t.Fatalf("unexpected keys: %+v", cfg.EncoderConfig)
			}
		})
	}
}

func TestNewNamesLogger(t *testing.T) {
	log, err := New(true, false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if ce := log.Check(zapcore.DebugLevel, "hidden"); ce != nil {
		t.Fatal("debug records must be disabled without --debug")
	}
	if ce := log.Check(zapcore.InfoLevel, "shown"); ce == nil || ce.LoggerName != Name {
		t.Fatalf("expected an info entry from %q, got %+v", Name, ce)
	}
}
