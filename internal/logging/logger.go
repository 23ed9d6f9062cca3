// Package logging builds the zap loggers used across brian and carries
// request-scoped fields through contexts.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a logger.
type Options struct {
	// Level is debug, info, warn or error. Unknown values mean info.
	Level string
	// Format is json or console. Unknown values mean json.
	Format string
	// File is the output path. Empty means Writer, or stdout without one.
	File string
	// Writer receives output when File is empty.
	Writer io.Writer
	// MaxSize rotates File once it would exceed this many bytes. Zero disables rotation.
	MaxSize int64
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
}

// NewLogger creates a zap.Logger with the specified level, format, and optional file output.
func NewLogger(level, format, filePath string) (*zap.Logger, error) {
	return New(Options{Level: level, Format: format, File: filePath})
}

// New creates a zap.Logger from opts.
func New(opts Options) (*zap.Logger, error) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToLower(opts.Format) == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	ws, err := sink(opts)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, ws, ParseLevel(opts.Level))
	return zap.New(core), nil
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func sink(opts Options) (zapcore.WriteSyncer, error) {
	if opts.File == "" {
		if opts.Writer != nil {
			return zapcore.AddSync(opts.Writer), nil
		}
		return zapcore.AddSync(os.Stdout), nil
	}
	if dir := filepath.Dir(opts.File); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("log directory %s: %w", dir, err)
		}
	}
	if opts.MaxSize > 0 {
		rw, err := newRotateWriter(opts.File, opts.MaxSize, opts.MaxBackups)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return rw, nil
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
