package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Package logging builds the process-wide zap logger.
//
// Responsibilities:
//   - Honor LOG_FORMAT (text|json) and DEBUG for encoder and level choice
//   - Route output to stderr so the stdio transport keeps stdout for frames
//   - Attach a rotating file sink when LOG_FILE is set
//   - Hand out named child loggers per component

// Options selects encoder, level, and sinks for the root logger.
type Options struct {
	// Format is "text" or "json".
	Format string

	// Debug lowers the level from info to debug.
	Debug bool

	// File, when non-empty, adds a rotating file sink at this path.
	File string

	// MaxSizeMB, MaxBackups, and MaxAgeDays bound the file sink rotation.
	// Zero values take the defaults (100 MiB, 7 backups, 30 days).
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds the root logger. All sinks write to stderr or to the rotating
// file; stdout is never used because the stdio transport owns it.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch opts.Format {
	case "", "text":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level),
	}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultInt(opts.MaxSizeMB, 100),
			MaxBackups: defaultInt(opts.MaxBackups, 7),
			MaxAge:     defaultInt(opts.MaxAgeDays, 30),
			Compress:   true,
		}
		// File sink is always JSON so rotated logs stay machine-readable.
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotator),
			level,
		)
		cores = append(cores, fileCore)
	}

	logger := zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return logger, nil
}

// Nop returns a disabled logger for tests and optional components.
func Nop() *zap.Logger {
	return zap.NewNop()
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
