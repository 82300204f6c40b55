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
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/DataDog/gostackparse"
	"github.com/getsentry/sentry-go"
)

// captureGoroutinesAsThreads dumps every goroutine and converts the dump into
// Sentry threads. The raw dump is returned as well so it can be attached.
func captureGoroutinesAsThreads() ([]sentry.Thread, []byte) {
	stack := allGoroutineStacks()

	goroutines, errs := gostackparse.Parse(bytes.NewReader(stack))
	if len(errs) > 0 && len(goroutines) == 0 {
		return nil, stack
	}

	threads := make([]sentry.Thread, 0, len(goroutines))
	for _, g := range goroutines {
		threads = append(threads, sentry.Thread{
			ID:         strconv.Itoa(g.ID),
			Name:       fmt.Sprintf("Goroutine %d (%s)", g.ID, g.State),
			Stacktrace: &sentry.Stacktrace{Frames: toSentryFrames(g.Stack)},
		})
	}

	return threads, stack
}

func allGoroutineStacks() []byte {
	buf := make([]byte, 4096)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}

		buf = make([]byte, 2*len(buf))
	}
}

// toSentryFrames keeps the order gostackparse reports.
func toSentryFrames(parsed []*gostackparse.Frame) []sentry.Frame {
	frames := make([]sentry.Frame, 0, len(parsed))
	for _, f := range parsed {
		frames = append(frames, sentry.Frame{
			Function: f.Func,
			Filename: filepath.Base(f.File),
			Lineno:   f.Line,
			AbsPath:  f.File,
		})
	}

	return frames
}
