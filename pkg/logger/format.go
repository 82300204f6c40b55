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
	"fmt"
	"sort"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const prettyTimeLayout = "2006-01-02 15:04:05.000 MST"

// PrettyConsoleEncoder renders one human-readable line per entry:
//
//	2025-01-02 15:04:05.000 UTC [INFO]	[converge/agent.go:120]	[Agent]	Converge finished - pipeline_id=main, actions=2
//
// Context fields added through With are kept in the embedded map encoder and
// printed together with the entry fields, pipeline_id first and the rest sorted.
type PrettyConsoleEncoder struct {
	*zapcore.MapObjectEncoder
	cfg  zapcore.EncoderConfig
	pool buffer.Pool
}

// NewPrettyConsoleEncoder creates a new PrettyConsoleEncoder.
func NewPrettyConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	if cfg.LineEnding == "" {
		cfg.LineEnding = zapcore.DefaultLineEnding
	}

	return &PrettyConsoleEncoder{
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
		cfg:              cfg,
		pool:             buffer.NewPool(),
	}
}

// Clone copies the encoder including its context fields.
func (e *PrettyConsoleEncoder) Clone() zapcore.Encoder {
	fields := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		fields.Fields[k] = v
	}

	return &PrettyConsoleEncoder{
		MapObjectEncoder: fields,
		cfg:              e.cfg,
		pool:             e.pool,
	}
}

// EncodeEntry implements zapcore.Encoder.
func (e *PrettyConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := e.pool.Get()

	if !entry.Time.IsZero() {
		line.AppendString(entry.Time.Format(prettyTimeLayout))
		line.AppendByte(' ')
	}

	line.AppendByte('[')
	line.AppendString(entry.Level.CapitalString())
	line.AppendString("]\t")

	if entry.Caller.Defined {
		line.AppendByte('[')
		line.AppendString(entry.Caller.TrimmedPath())
		line.AppendString("]\t")
	}

	if entry.LoggerName != "" {
		line.AppendByte('[')
		line.AppendString(entry.LoggerName)
		line.AppendString("]\t")
	}

	line.AppendString(entry.Message)

	merged := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		merged.Fields[k] = v
	}

	for _, field := range fields {
		field.AddTo(merged)
	}

	if len(merged.Fields) > 0 {
		line.AppendString(" - ")
		appendFields(line, merged.Fields)
	}

	if entry.Stack != "" {
		line.AppendString(e.cfg.LineEnding)
		line.AppendString(entry.Stack)
	}

	line.AppendString(e.cfg.LineEnding)

	return line, nil
}

func appendFields(line *buffer.Buffer, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != FieldPipelineID {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	if _, ok := fields[FieldPipelineID]; ok {
		keys = append([]string{FieldPipelineID}, keys...)
	}

	for i, k := range keys {
		if i > 0 {
			line.AppendString(", ")
		}

		line.AppendString(k)
		line.AppendByte('=')
		line.AppendString(fmt.Sprintf("%v", fields[k]))
	}
}
