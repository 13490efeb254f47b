// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package zaputil

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewStackExtractCore returns core, that moves stacktraces of github.com/pkg/errors
// error fields into zapcore.Entry.Stack, so console encoder prints them readable,
// below the entry. Error field is replaced by its cause, or by its message.
// Check of wrapped core is not called, only its LevelEnabler is used,
// so sampling cores should not be wrapped.
func NewStackExtractCore(c zapcore.Core) zapcore.Core {
	return &stackExtractCore{Core: c}
}

type stackExtractCore struct {
	zapcore.Core
	stacks string // Extracted from With fields.
}

type stackTracer interface {
	error
	StackTrace() errors.StackTrace
}

func (c *stackExtractCore) With(fields []zapcore.Field) zapcore.Core {
	fields, stacks := extractStacks(fields)
	return &stackExtractCore{
		Core:   c.Core.With(fields),
		stacks: joinLines(c.stacks, stacks),
	}
}

func (c *stackExtractCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *stackExtractCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	fields, stacks := extractStacks(fields)
	if stacks = joinLines(c.stacks, stacks); stacks != "" {
		ent.Stack = joinLines(ent.Stack, stacks)
	}
	return c.Core.Write(ent, fields)
}

// extractStacks never modifies passed fields: they are copied, if some stack found.
func extractStacks(fields []zapcore.Field) ([]zapcore.Field, string) {
	var (
		stacks strings.Builder
		result []zapcore.Field
	)
	for i, field := range fields {
		if field.Type != zapcore.ErrorType {
			continue
		}
		err, ok := field.Interface.(stackTracer)
		if !ok {
			continue
		}
		if result == nil {
			result = append([]zapcore.Field(nil), fields...)
		}
		if cause := errors.Unwrap(err); cause != nil {
			result[i].Interface = cause
		} else {
			result[i] = zap.String(field.Key, err.Error())
		}
		if stacks.Len() > 0 {
			stacks.WriteByte('\n')
		}
		fmt.Fprintf(&stacks, "%s stacktrace:%+v", field.Key, err.StackTrace())
	}
	if result == nil {
		return fields, ""
	}
	return result, stacks.String()
}

func joinLines(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}
