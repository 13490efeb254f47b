// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// Package netutil contains dial helpers for connection pools.
package netutil

import (
	"context"
	"net"
	"net/url"
	"sync"

	"github.com/pkg/errors"
)

//go:generate mockery --name=Dialer --case=underscore --outpkg=netmock

type Dialer interface {
	DialContext(ctx context.Context, net, addr string) (net.Conn, error)
}

var _ Dialer = &net.Dialer{}

type DialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f DialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// NewDNSCachingDialer returns dialer, that remembers remote IP of first successful dial
// of addr, and dials it directly later. Target is resolved once per pool,
// not on every new connection.
func NewDNSCachingDialer(dialer Dialer, cache DNSCache) DialerFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if resolved, ok := cache.Get(addr); ok {
			return dialer.DialContext(ctx, network, resolved)
		}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		resolved, ok, err := remoteHostPort(conn, addr)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if ok {
			cache.Add(addr, resolved)
		}
		return conn, nil
	}
}

// remoteHostPort returns remote IP of TCP conn joined with port of dialed addr.
func remoteHostPort(conn net.Conn, addr string) (string, bool, error) {
	remote, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return "", false, nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", false, errors.Wrapf(err, "dialed invalid address %q", addr)
	}
	return net.JoinHostPort(remote.IP.String(), port), true, nil
}

// DefaultDNSCache is shared by all pools of process.
var DefaultDNSCache = &SimpleDNSCache{}

// WarmDNSCache dials addr once and caches its resolved address.
func WarmDNSCache(ctx context.Context, c DNSCache, addr string) error {
	conn, err := NewDNSCachingDialer(&net.Dialer{}, c).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// HostPort returns dial address of URL: host with explicit port,
// or scheme default port.
func HostPort(u *url.URL) (string, error) {
	host := u.Hostname()
	if host == "" {
		return "", errors.Errorf("no host in %q", u.String())
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", errors.Errorf("unsupported scheme %q", u.Scheme)
		}
	}
	return net.JoinHostPort(host, port), nil
}

//go:generate mockery --name=DNSCache --case=underscore --outpkg=netmock

type DNSCache interface {
	Get(addr string) (string, bool)
	Add(addr, resolved string)
}

// SimpleDNSCache never expires entries. Zero value is ready to use.
type SimpleDNSCache struct {
	m sync.Map
}

func (c *SimpleDNSCache) Get(addr string) (string, bool) {
	resolved, ok := c.m.Load(addr)
	if !ok {
		return "", false
	}
	return resolved.(string), true
}

func (c *SimpleDNSCache) Add(addr, resolved string) {
	c.m.Store(addr, resolved)
}
