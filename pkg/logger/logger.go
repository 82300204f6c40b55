// Copyright 2025 UMH Systems GmbH
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

package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level.
type LogLevel string

// LogFormat represents the logging format.
type LogFormat string

const (
	DebugLevel LogLevel = "DEBUG"
	InfoLevel  LogLevel = "INFO"
	WarnLevel  LogLevel = "WARN"
	ErrorLevel LogLevel = "ERROR"
	// ProductionLevel is an alias for InfoLevel.
	ProductionLevel LogLevel = "PRODUCTION"

	// FormatConsole is zap's console encoder.
	FormatConsole LogFormat = "CONSOLE"
	// FormatJSON is structured JSON, one object per line.
	FormatJSON LogFormat = "JSON"
	// FormatPretty is the PrettyConsoleEncoder.
	FormatPretty LogFormat = "PRETTY"
)

var (
	initOnce    sync.Once
	initialized bool
)

func getLogLevel(level LogLevel) zapcore.Level {
	switch LogLevel(strings.ToUpper(string(level))) {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case InfoLevel, ProductionLevel:
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseFormat maps a user supplied format name to a LogFormat, falling back to
// defaultFormat for anything unknown.
func ParseFormat(value string, defaultFormat LogFormat) LogFormat {
	switch format := LogFormat(strings.ToUpper(value)); format {
	case FormatConsole, FormatJSON, FormatPretty:
		return format
	default:
		return defaultFormat
	}
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New creates a new zap logger writing to stdout.
func New(logLevel string, logFormat LogFormat) *zap.Logger {
	return NewWithWriter(os.Stdout, logLevel, logFormat)
}

// NewWithWriter creates a new zap logger writing to w.
func NewWithWriter(w io.Writer, logLevel string, logFormat LogFormat) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder

	switch logFormat {
	case FormatPretty:
		encoder = NewPrettyConsoleEncoder(encoderConfig)
	case FormatConsole:
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(getLogLevel(LogLevel(logLevel))),
	)

	return zap.New(core, zap.AddCaller())
}

// Initialize sets up the global logger from LOGGING_LEVEL and LOGGING_FORMAT.
func Initialize() {
	initOnce.Do(func() {
		logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, string(ProductionLevel)) //nolint:errcheck
		rawFormat, _ := env.GetAsString("LOGGING_FORMAT", false, string(FormatPretty))  //nolint:errcheck
		logFormat := ParseFormat(rawFormat, FormatPretty)

		log := New(logLevel, logFormat)
		log.Info("Logger initialized",
			zap.String("level", logLevel),
			zap.String("format", string(logFormat)))

		zap.ReplaceGlobals(log)

		initialized = true
	})
}

// Replace swaps the global logger, e.g. once the settings file has been read
// and overrides the environment defaults.
func Replace(log *zap.Logger) {
	Initialize()
	zap.ReplaceGlobals(log)
}

// GetSugaredLogger returns the global sugared logger, initializing it if needed.
func GetSugaredLogger() *zap.SugaredLogger {
	if !initialized {
		Initialize()
	}

	return zap.S()
}

// Sync flushes any buffered log entries.
func Sync() error {
	return zap.L().Sync()
}

// For creates a named logger for a specific component.
func For(component string) *zap.SugaredLogger {
	if !initialized {
		Initialize()
	}

	return zap.S().Named(component)
}

// ForPipeline returns a logger that tags every entry with the pipeline id.
func ForPipeline(id string) *zap.SugaredLogger {
	return For(ComponentPipeline).With(FieldPipelineID, id)
}
