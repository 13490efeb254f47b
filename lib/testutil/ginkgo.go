// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// Package testutil contains helpers shared by package tests: ginkgo suite setup,
// loggers and HTTP/2 test target.
package testutil

import (
	"strings"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/format"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// RunSuite runs ginkgo specs of package with global logger writing to GinkgoWriter.
func RunSuite(t *testing.T, description string) {
	format.UseStringerRepresentation = true // Error stacks are unreadable otherwise.
	log := NewLogger()
	zap.ReplaceGlobals(log)
	zap.RedirectStdLog(log)
	RegisterFailHandler(Fail)
	RunSpecs(t, description)
}

// NewLogger returns debug logger writing to GinkgoWriter, so output is shown only for failed specs.
func NewLogger() *zap.Logger {
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(enc, zapcore.AddSync(GinkgoWriter), zap.DebugLevel)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.DPanicLevel))
}

// NewObservedLogger returns logger, which entries can be inspected.
func NewObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// ParseYAML parses config the same way as it is read from file.
func ParseYAML(data string) map[string]interface{} {
	v := viper.New()
	v.SetConfigType("yaml")
	err := v.ReadConfig(strings.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	return v.AllSettings()
}
