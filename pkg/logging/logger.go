// Copyright (c) 2026 The Xconn Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging is the leveled logging facility of xconn, backed by go.uber.org/zap.
// Servers and clients log through the default logger unless WithLogger hands them another one.
//
// The default logger is configured from the environment:
//
//	XCONN_LOGGING_LEVEL  a level name ("debug", "warn", ...) or its number (-1 for debug)
//	XCONN_LOGGING_FILE   a file to log to instead of stdout, rotated by lumberjack
package logging

import (
	"errors"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is used for logging formatted messages.
type Logger interface {
	// Debugf logs messages at DEBUG level.
	Debugf(format string, args ...any)
	// Infof logs messages at INFO level.
	Infof(format string, args ...any)
	// Warnf logs messages at WARN level.
	Warnf(format string, args ...any)
	// Errorf logs messages at ERROR level.
	Errorf(format string, args ...any)
	// Fatalf logs messages at FATAL level.
	Fatalf(format string, args ...any)
}

// Flusher writes out buffered log entries, call it before the process exits.
type Flusher = func() error

// Level is the alias of zapcore.Level.
type Level = zapcore.Level

const (
	DebugLevel  = zapcore.DebugLevel
	InfoLevel   = zapcore.InfoLevel
	WarnLevel   = zapcore.WarnLevel
	ErrorLevel  = zapcore.ErrorLevel
	DPanicLevel = zapcore.DPanicLevel
	PanicLevel  = zapcore.PanicLevel
	FatalLevel  = zapcore.FatalLevel
)

const prefix = "[xconn]"

// Config describes a logger built by New.
type Config struct {
	Level Level
	// File switches from the console to a rotated log file.
	File string
	// MaxSizeMB, MaxBackups and MaxAgeDays control the rotation, zero picks 100MB, 2 and 15 days.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Development adds stack traces to warnings and panics on DPanic.
	Development bool
}

var (
	mu             sync.RWMutex
	defaultLogger  Logger
	defaultFlusher Flusher
	defaultLevel   Level
	setupOnce      sync.Once
)

func init() {
	cfg := Config{Development: true}
	if v := os.Getenv("XCONN_LOGGING_LEVEL"); v != "" {
		lvl, err := ParseLevel(v)
		if err != nil {
			panic("invalid XCONN_LOGGING_LEVEL, " + err.Error())
		}
		cfg.Level = lvl
	}
	cfg.File = os.Getenv("XCONN_LOGGING_FILE")
	logger, flusher, err := New(cfg)
	if err != nil {
		panic("invalid XCONN_LOGGING_FILE, " + err.Error())
	}
	defaultLogger, defaultFlusher, defaultLevel = logger, flusher, cfg.Level
}

// New builds a logger writing to stdout, or to cfg.File when it is set.
func New(cfg Config) (Logger, Flusher, error) {
	var (
		ws  zapcore.WriteSyncer
		enc zapcore.EncoderConfig
	)
	if cfg.File != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 2),
			MaxAge:     orDefault(cfg.MaxAgeDays, 15),
		})
		enc = zap.NewProductionEncoderConfig()
	} else {
		ws = zapcore.Lock(os.Stdout)
		enc = zap.NewDevelopmentEncoderConfig()
	}
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(newPrefixEncoder(zapcore.NewConsoleEncoder(enc)), ws, cfg.Level)
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(ErrorLevel), zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	zl := zap.New(core, opts...)
	return zl.Sugar(), zl.Sync, nil
}

// CreateLoggerAsLocalFile builds a logger writing to a rotated file at localFilePath.
func CreateLoggerAsLocalFile(localFilePath string, logLevel Level) (Logger, Flusher, error) {
	if localFilePath == "" {
		return nil, nil, errors.New("logging: empty log file path")
	}
	return New(Config{Level: logLevel, File: localFilePath})
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// prefixEncoder puts "[xconn]" in front of every line.
type prefixEncoder struct {
	zapcore.Encoder
	pool buffer.Pool
}

func newPrefixEncoder(enc zapcore.Encoder) *prefixEncoder {
	return &prefixEncoder{Encoder: enc, pool: buffer.NewPool()}
}

func (e *prefixEncoder) Clone() zapcore.Encoder {
	return &prefixEncoder{Encoder: e.Encoder.Clone(), pool: e.pool}
}

func (e *prefixEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line, err := e.Encoder.EncodeEntry(entry, fields)
	if err != nil {
		return nil, err
	}
	defer line.Free()
	buf := e.pool.Get()
	buf.AppendString(prefix)
	buf.AppendByte(' ')
	_, _ = buf.Write(line.Bytes())
	return buf, nil
}

// ParseLevel accepts a level name such as "debug" or "warn", or its number.
func ParseLevel(text string) (Level, error) {
	if n, err := strconv.ParseInt(text, 10, 8); err == nil {
		return Level(n), nil
	}
	var lvl Level
	err := lvl.UnmarshalText([]byte(text))
	return lvl, err
}

// DefaultLevel returns the level of the logger set up from the environment.
func DefaultLevel() Level {
	return defaultLevel
}

// GetDefaultLogger returns the default logger.
func GetDefaultLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// GetDefaultFlusher returns the flusher of the default logger.
func GetDefaultFlusher() Flusher {
	mu.RLock()
	defer mu.RUnlock()
	return defaultFlusher
}

// SetDefaultLoggerAndFlusher replaces the default logger, only the first call has an effect.
func SetDefaultLoggerAndFlusher(logger Logger, flusher Flusher) {
	setupOnce.Do(func() {
		mu.Lock()
		defaultLogger, defaultFlusher = logger, flusher
		mu.Unlock()
	})
}

// Cleanup flushes the default logger.
func Cleanup() {
	if f := GetDefaultFlusher(); f != nil {
		_ = f()
	}
}

// Debugf logs messages at DEBUG level.
func Debugf(format string, args ...any) {
	GetDefaultLogger().Debugf(format, args...)
}

// Infof logs messages at INFO level.
func Infof(format string, args ...any) {
	GetDefaultLogger().Infof(format, args...)
}

// Warnf logs messages at WARN level.
func Warnf(format string, args ...any) {
	GetDefaultLogger().Warnf(format, args...)
}

// Errorf logs messages at ERROR level.
func Errorf(format string, args ...any) {
	GetDefaultLogger().Errorf(format, args...)
}
