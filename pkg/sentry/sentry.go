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
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
)

// InitSentry configures the global Sentry client. Reporting stays disabled
// when no DSN is configured or when the agent runs a local development build.
// If debounceErrors is true, errors and warnings are rate limited per level.
func InitSentry(dsn string, appVersion string, debounceErrors bool) bool {
	setDebounce(debounceErrors)

	if dsn == "" {
		zap.S().Debug("Sentry disabled, no DSN configured")

		return false
	}

	if appVersion == "" || appVersion == constants.DefaultAppVersion {
		zap.S().Debug("Sentry disabled for local development build")

		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   environmentFor(appVersion),
		Release:       "pipeline-agent@" + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)

		return false
	}

	return true
}

// Flush waits for buffered events to be delivered. It is a no-op when Sentry
// was never initialised.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// environmentFor maps prerelease versions to the development environment.
func environmentFor(appVersion string) string {
	version, err := semver.NewVersion(appVersion)
	if err != nil {
		zap.S().Errorf("Failed to parse app version, using default environment (development): %s", err)

		return constants.DefaultDevelopmentEnvironment
	}

	if version.Prerelease() != "" {
		return constants.DefaultDevelopmentEnvironment
	}

	return constants.DefaultProductionEnvironment
}

func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	// first phrase, up to a period, comma or colon
	if idx := strings.IndexAny(message, ".,:"); idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error, context map[string]interface{}) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}

	if level == sentry.LevelFatal || level == sentry.LevelError {
		threads, stacktrace := captureGoroutinesAsThreads()
		event.Threads = threads
		event.Attachments = append(event.Attachments, &sentry.Attachment{
			Filename:    "stacktrace.txt",
			ContentType: "text/plain",
			Payload:     stacktrace,
		})
	}

	event.Fingerprint = []string{
		"{{ default }}",
		"level: " + getLevelString(level),
	}

	for key, value := range context {
		switch converted := value.(type) {
		case string:
			setTag(event, key, converted)
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
			setTag(event, key, fmt.Sprintf("%v", converted))
		default:
			if event.Extra == nil {
				event.Extra = make(map[string]interface{})
			}

			event.Extra[key] = converted
		}

		if isFingerprintKey(key) {
			event.Fingerprint = append(event.Fingerprint, fmt.Sprintf("%s: %v", key, value))
		}
	}

	return event
}

func setTag(event *sentry.Event, key, value string) {
	if event.Tags == nil {
		event.Tags = make(map[string]string)
	}

	event.Tags[key] = value
}

func getLevelString(level sentry.Level) string {
	switch level {
	case sentry.LevelDebug:
		return "debug"
	case sentry.LevelInfo:
		return "info"
	case sentry.LevelWarning:
		return "warning"
	case sentry.LevelError:
		return "error"
	case sentry.LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func sendSentryEvent(event *sentry.Event) {
	localHub := sentry.CurrentHub().Clone()
	localHub.CaptureEvent(event)
}
