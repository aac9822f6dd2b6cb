// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide structured logger. All components receive it
// by injection; nothing logs through the global zap logger.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Sync() error
}

type applicationLogger struct {
	*zap.SugaredLogger
}

type loggerOptions struct {
	level   string
	logFile string
}

// LoggerOption configures NewApplicationLogger.
type LoggerOption func(*loggerOptions)

// WithLevel sets the minimum log level ("debug", "info", "warn", "error").
func WithLevel(level string) LoggerOption {
	return func(o *loggerOptions) { o.level = level }
}

// WithLogFile mirrors log output into a size-rotated file in addition to stderr.
func WithLogFile(path string) LoggerOption {
	return func(o *loggerOptions) { o.logFile = path }
}

// NewApplicationLogger builds the standard console (and optionally file-rotated)
// sugared logger used across the application.
func NewApplicationLogger(opts ...LoggerOption) (Logger, error) {
	options := &loggerOptions{level: "info"}
	for _, opt := range opts {
		opt(options)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	level := parseLevel(options.level)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level),
	}
	if options.logFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   options.logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotated), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return &applicationLogger{logger.Sugar()}, nil
}

func parseLevel(level string) zapcore.Level {
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
