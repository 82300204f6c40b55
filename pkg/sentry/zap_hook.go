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

package sentry

import (
	"fmt"
	"slices"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap/zapcore"
)

// FingerprintKeys are the field keys that affect Sentry grouping. Instance
// specific fields like pipeline_id become tags only.
var FingerprintKeys = []string{"operation", "action", "outcome", "trigger"}

func isFingerprintKey(key string) bool {
	return slices.Contains(FingerprintKeys, key)
}

// SentryHook wraps a zapcore.Core and forwards Warn and Error entries to
// Sentry from a separate goroutine. Logging itself is always delegated.
type SentryHook struct {
	zapcore.Core
	context []zapcore.Field
}

// NewSentryHook creates a new SentryHook wrapping the given zapcore.Core.
func NewSentryHook(core zapcore.Core) *SentryHook {
	return &SentryHook{Core: core}
}

// With keeps the context fields so they show up as Sentry tags too.
func (h *SentryHook) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(h.context)+len(fields))
	merged = append(merged, h.context...)
	merged = append(merged, fields...)

	return &SentryHook{Core: h.Core.With(fields), context: merged}
}

func (h *SentryHook) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if h.Enabled(entry.Level) {
		return ce.AddCore(entry, h)
	}

	return ce
}

func (h *SentryHook) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if entry.Level >= zapcore.WarnLevel {
		all := make([]zapcore.Field, 0, len(h.context)+len(fields))
		all = append(all, h.context...)
		all = append(all, fields...)

		go captureToSentry(entry, all)
	}

	return h.Core.Write(entry, fields)
}

func captureToSentry(entry zapcore.Entry, fields []zapcore.Field) {
	tags := fieldsAsTags(fields)
	level := zapLevelToSentry(entry.Level)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)

		fingerprint := []string{"{{ default }}", "level: " + getLevelString(level)}
		for _, key := range FingerprintKeys {
			if value, ok := tags[key]; ok {
				fingerprint = append(fingerprint, key+": "+value)
			}
		}

		scope.SetFingerprint(fingerprint)
		scope.SetTags(tags)

		if entry.LoggerName != "" {
			scope.SetTag("component", entry.LoggerName)
		}

		sentry.CaptureMessage(entry.Message)
	})
}

// fieldsAsTags flattens zap fields into string tags.
func fieldsAsTags(fields []zapcore.Field) map[string]string {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}

	tags := make(map[string]string, len(enc.Fields))
	for k, v := range enc.Fields {
		tags[k] = fmt.Sprintf("%v", v)
	}

	return tags
}

func zapLevelToSentry(level zapcore.Level) sentry.Level {
	switch level {
	case zapcore.DebugLevel:
		return sentry.LevelDebug
	case zapcore.InfoLevel:
		return sentry.LevelInfo
	case zapcore.WarnLevel:
		return sentry.LevelWarning
	case zapcore.ErrorLevel:
		return sentry.LevelError
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}
