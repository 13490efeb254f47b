// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package zaputil

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	Level zapcore.Level `config:"level"`
	// Caller adds file:line of log call site.
	Caller bool `config:"caller"`
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  zapcore.InfoLevel,
		Caller: true,
	}
}

// NewLogger builds human-readable console logger, that prints error stacks
// below the entry instead of inside fields.
func NewLogger(conf LogConfig) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(conf.Level)
	zc.DisableCaller = !conf.Caller
	log, err := zc.Build(
		zap.AddStacktrace(zap.DPanicLevel),
		zap.WrapCore(NewStackExtractCore),
	)
	if err != nil {
		return nil, errors.Wrap(err, "logger build failed")
	}
	return log, nil
}
