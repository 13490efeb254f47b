// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package cli

import (
	"gopkg.in/yaml.v2"

	"github.com/yandex/muxload/core/engine"
)

// exampleConfig renders config with default values, in order of importance.
func exampleConfig() ([]byte, error) {
	conf := engine.DefaultConfig()
	tr := conf.Pool.Transport
	example := yaml.MapSlice{
		{Key: "target", Value: "http://localhost:8080/api/v1/request_info"},
		{Key: "workers", Value: conf.Workers},
		{Key: "requests", Value: conf.Requests},
		{Key: "max-connections", Value: conf.Pool.MaxConnections},
		{Key: "max-streams", Value: conf.Pool.MaxStreams},
		{Key: "wait-timeout", Value: conf.Scheduler.WaitTimeout.String()},
		{Key: "request-timeout", Value: conf.Scheduler.RequestTimeout.String()},
		{Key: "buffer-size", Value: conf.Scheduler.BufferSize.String()},
		{Key: "release-buffers", Value: conf.Scheduler.ReleaseBuffers},
		{Key: "status-policy", Value: conf.StatusPolicy},
		{Key: "user-agent", Value: conf.Scheduler.UserAgent},
		{Key: "transport", Value: yaml.MapSlice{
			{Key: "tls-handshake-timeout", Value: tr.TLSHandshakeTimeout.String()},
			{Key: "read-idle-timeout", Value: tr.ReadIdleTimeout.String()},
			{Key: "ping-timeout", Value: tr.PingTimeout.String()},
			{Key: "disable-compression", Value: tr.DisableCompression},
			{Key: "dial", Value: yaml.MapSlice{
				{Key: "timeout", Value: tr.Dial.Timeout.String()},
				{Key: "dns-cache", Value: tr.Dial.DNSCache},
				{Key: "dual-stack", Value: tr.Dial.DualStack},
				{Key: "keep-alive", Value: tr.Dial.KeepAlive.String()},
				{Key: "fallback-delay", Value: tr.Dial.FallbackDelay.String()},
			}},
		}},
		{Key: "log", Value: yaml.MapSlice{
			{Key: "level", Value: "info"},
			{Key: "caller", Value: true},
		}},
		{Key: "monitoring", Value: yaml.MapSlice{
			{Key: "expvar", Value: yaml.MapSlice{
				{Key: "enabled", Value: false},
				{Key: "endpoint", Value: ":1234"},
			}},
		}},
	}
	return yaml.Marshal(example)
}
