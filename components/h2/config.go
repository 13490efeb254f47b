// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package h2

import (
	"net"
	"time"

	"github.com/yandex/muxload/lib/netutil"
)

type PoolConfig struct {
	// MaxConnections limits concurrently open physical connections.
	MaxConnections int `config:"max-connections" validate:"min=1"`
	// MaxStreams limits concurrently active streams on all connections.
	MaxStreams int             `config:"max-streams" validate:"min=1"`
	Transport  TransportConfig `config:"transport"`
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections: 16,
		MaxStreams:     2000,
		Transport:      DefaultTransportConfig(),
	}
}

// DialerConfig can be mapped on net.Dialer.
// Set net.Dialer for details.
type DialerConfig struct {
	DNSCache bool `config:"dns-cache"`

	Timeout   time.Duration `config:"timeout"`
	DualStack bool          `config:"dual-stack"`

	// IPv4/IPv6 settings should not matter really,
	// because target should be dialed using pre-resolved addr.
	FallbackDelay time.Duration `config:"fallback-delay"`
	KeepAlive     time.Duration `config:"keep-alive"`
}

func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		DNSCache:  true,
		DualStack: true,
		Timeout:   3 * time.Second,
		KeepAlive: 120 * time.Second,
	}
}

func NewDialer(conf DialerConfig) netutil.Dialer {
	d := &net.Dialer{
		Timeout:       conf.Timeout,
		DualStack:     conf.DualStack,
		FallbackDelay: conf.FallbackDelay,
		KeepAlive:     conf.KeepAlive,
	}
	if !conf.DNSCache {
		return d
	}
	return netutil.NewDNSCachingDialer(d, netutil.DefaultDNSCache)
}

// TransportConfig can be mapped on http2.Transport.
// See http2.Transport for details.
type TransportConfig struct {
	TLSHandshakeTimeout time.Duration `config:"tls-handshake-timeout"`
	// ReadIdleTimeout enables health check PING frames, when connection
	// has no frames received for that time. Zero disables it.
	ReadIdleTimeout    time.Duration `config:"read-idle-timeout"`
	PingTimeout        time.Duration `config:"ping-timeout"`
	DisableCompression bool          `config:"disable-compression"`
	Dial               DialerConfig  `config:"dial"`
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		TLSHandshakeTimeout: 1 * time.Second,
		PingTimeout:         15 * time.Second,
		DisableCompression:  true,
		Dial:                DefaultDialerConfig(),
	}
}
