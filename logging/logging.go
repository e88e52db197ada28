// Package logging installs the process logger. Packages keep logging through
// the standard library log package; Setup redirects it into zap.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits applied to file outputs when Rotate is set.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 14
)

// Config selects level, encoding and sinks.
type Config struct {
	// Level is debug, info, warn or error. Anything else means info.
	Level string
	// Format is console or json.
	Format string
	// Outputs lists stdout, stderr or file paths.
	Outputs []string
	// Rotate routes file outputs through lumberjack.
	Rotate bool
	// Development enables colored levels and DPanic panics.
	Development bool
}

// ParseLevel maps a config string to a zap level.
func ParseLevel(value string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// New builds a logger from cfg without touching globals. The returned close
// function releases file sinks.
func New(cfg Config) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	encoder := newEncoder(cfg)

	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	var (
		cores   []zapcore.Core
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for _, out := range outputs {
		out = strings.TrimSpace(out)
		switch strings.ToLower(out) {
		case "":
			continue
		case "stdout":
			cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
		case "stderr":
			cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
		default:
			sink, release, err := fileSink(out, cfg.Rotate)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, release)
			cores = append(cores, zapcore.NewCore(encoder, sink, level))
		}
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), closeAll, nil
}

// Setup builds the logger, installs it as the zap global and redirects the
// standard library log package into it. Call the returned function on exit.
func Setup(cfg Config) (*zap.Logger, func(), error) {
	logger, closeSinks, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}

	undoGlobals := zap.ReplaceGlobals(logger)
	undoRedirect, err := zap.RedirectStdLogAt(logger, zap.InfoLevel)
	if err != nil {
		undoGlobals()
		closeSinks()
		return nil, nil, fmt.Errorf("redirect standard log: %w", err)
	}

	return logger, func() {
		_ = logger.Sync()
		undoRedirect()
		undoGlobals()
		closeSinks()
	}, nil
}

func newEncoder(cfg Config) zapcore.Encoder {
	var encCfg zapcore.EncoderConfig
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if strings.EqualFold(cfg.Format, "json") {
		return zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

func fileSink(path string, rotate bool) (zapcore.WriteSyncer, func(), error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create log directory %q: %w", dir, err)
		}
	}

	if rotate {
		roller := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    DefaultMaxSizeMB,
			MaxBackups: DefaultMaxBackups,
			MaxAge:     DefaultMaxAgeDays,
			Compress:   true,
		}
		return zapcore.AddSync(roller), func() { _ = roller.Close() }, nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return zapcore.Lock(file), func() { _ = file.Close() }, nil
}
