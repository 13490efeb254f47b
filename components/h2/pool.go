// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// Package h2 implements bounded pool of HTTP/2 connections to one target.
// Protocol is not negotiated: cleartext targets are spoken to with prior knowledge,
// and TLS targets must select h2 via ALPN.
package h2

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/yandex/muxload/core/clientpool"
	"github.com/yandex/muxload/lib/monitoring"
	"github.com/yandex/muxload/lib/netutil"
)

var (
	ErrPoolClosed   = errors.New("connection pool is closed")
	ErrNoConnection = errors.New("all pooled connections are going away")
)

// Pool holds at most MaxConnections connections, and gives at most MaxStreams
// stream reservations at once. Pool is goroutine safe.
type Pool struct {
	log        *zap.Logger
	addr       string
	tlsConf    *tls.Config
	handshake  func(ctx context.Context) (context.Context, context.CancelFunc)
	dialer     netutil.Dialer
	tr         *http2.Transport
	maxStreams int64

	streams monitoring.Gauge
	conns   monitoring.Gauge
	dials   atomic.Int64

	done chan struct{} // Closed on pool Close. Aborts dials in progress.

	mu      sync.Mutex
	pool    *clientpool.Pool[*http2.ClientConn]
	dialing int           // Dials in progress, counted against pool capacity.
	dialed  chan struct{} // Closed and replaced, when some dial ends.
	closed  bool
}

// Stats is snapshot of pool usage.
type Stats struct {
	Streams         int64
	PeakStreams     int64
	Connections     int64
	PeakConnections int64
	Dials           int64
}

func NewPool(log *zap.Logger, target *url.URL, conf PoolConfig) (*Pool, error) {
	addr, err := netutil.HostPort(target)
	if err != nil {
		return nil, err
	}
	if conf.MaxStreams <= 0 {
		return nil, errors.New("max streams must be greater than zero")
	}
	conns, err := clientpool.New[*http2.ClientConn](conf.MaxConnections)
	if err != nil {
		return nil, errors.WithMessage(err, "max connections")
	}
	tc := conf.Transport
	p := &Pool{
		log:    log,
		addr:   addr,
		dialer: NewDialer(tc.Dial),
		tr: &http2.Transport{
			AllowHTTP:                  true,
			DisableCompression:         tc.DisableCompression,
			StrictMaxConcurrentStreams: true, // Wait for free stream on full connection, instead of failing.
			ReadIdleTimeout:            tc.ReadIdleTimeout,
			PingTimeout:                tc.PingTimeout,
		},
		maxStreams: int64(conf.MaxStreams),
		done:       make(chan struct{}),
		pool:       conns,
		dialed:     make(chan struct{}),
	}
	if target.Scheme == "https" {
		p.tlsConf = &tls.Config{
			InsecureSkipVerify: true, // We should not spend time for this stuff.
			NextProtos:         []string{http2.NextProtoTLS},
			ServerName:         target.Hostname(),
		}
		timeout := tc.TLSHandshakeTimeout
		p.handshake = func(ctx context.Context) (context.Context, context.CancelFunc) {
			if timeout <= 0 {
				return context.WithCancel(ctx)
			}
			return context.WithTimeout(ctx, timeout)
		}
	}
	return p, nil
}

// Reserve reserves one stream without blocking. Returns false, if all MaxStreams
// are in use. Reserved stream should be closed after response body read.
func (p *Pool) Reserve() (*Stream, bool) {
	if !p.streams.TryInc(p.maxStreams) {
		return nil, false
	}
	return &Stream{pool: p}, true
}

func (p *Pool) Stats() Stats {
	return Stats{
		Streams:         p.streams.Get(),
		PeakStreams:     p.streams.Peak(),
		Connections:     p.conns.Get(),
		PeakConnections: p.conns.Peak(),
		Dials:           p.dials.Load(),
	}
}

// Close closes all connections and aborts dials in progress. In-flight requests fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	var err error
	p.pool.Each(func(cc *http2.ClientConn) {
		if closeErr := cc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	evicted := p.pool.Evict(func(*http2.ClientConn) bool { return true })
	p.conns.Add(-int64(len(evicted)))
	return err
}

// conn returns connection for new stream. Connection with free stream slot is preferred,
// then new connection is dialed if pool is not full, otherwise stream will wait on
// some live connection for free slot. Dial is done without lock, so slow peer
// doesn't block streams of other connections.
func (p *Pool) conn(ctx context.Context) (*http2.ClientConn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if cc, ok := p.pool.Find(hasFreeSlot); ok && cc.ReserveNewRequest() {
			p.mu.Unlock()
			return cc, nil
		}
		p.evictDead()
		if p.pool.Len()+p.dialing < p.pool.Cap() {
			p.dialing++
			p.mu.Unlock()
			return p.dialAndAdd(ctx)
		}
		if cc, ok := p.pool.Find(isAlive); ok {
			p.mu.Unlock()
			return cc, nil
		}
		if p.dialing == 0 {
			p.mu.Unlock()
			return nil, ErrNoConnection
		}
		dialed := p.dialed
		p.mu.Unlock()
		select {
		case <-dialed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// dialAndAdd dials connection, that was counted in dialing, and adds it to pool.
func (p *Pool) dialAndAdd(ctx context.Context) (*http2.ClientConn, error) {
	cc, err := p.dial(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing--
	close(p.dialed)
	p.dialed = make(chan struct{})
	if err != nil {
		return nil, err
	}
	if p.closed {
		_ = cc.Close()
		return nil, ErrPoolClosed
	}
	_ = p.pool.Add(cc)
	p.conns.Inc()
	p.log.Debug("Connection established", zap.Int("pooled", p.pool.Len()))
	return cc, nil
}

func (p *Pool) dial(ctx context.Context) (*http2.ClientConn, error) {
	p.dials.Inc()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, errors.WithMessage(err, "dial failed")
	}
	if p.tlsConf != nil {
		conn, err = p.tlsHandshake(ctx, conn)
		if err != nil {
			return nil, err
		}
	}
	cc, err := p.tr.NewClientConn(conn)
	if err != nil {
		_ = conn.Close()
		return nil, errors.WithMessage(err, "http2 client connection init failed")
	}
	// Server SETTINGS precede PING ack, so after ping MaxConcurrentStreams of
	// connection is known, and fresh connection is not overloaded with streams.
	// Also that fails fast, if target doesn't speak HTTP/2.
	if err := cc.Ping(ctx); err != nil {
		_ = cc.Close()
		return nil, errors.WithMessage(err, "http2 handshake failed")
	}
	return cc, nil
}

func (p *Pool) tlsHandshake(ctx context.Context, conn net.Conn) (net.Conn, error) {
	tlsConn := tls.Client(conn, p.tlsConf)
	hsCtx, cancel := p.handshake(ctx)
	defer cancel()
	err := tlsConn.HandshakeContext(hsCtx)
	if err == nil {
		state := tlsConn.ConnectionState()
		err = checkHTTP2(&state)
	}
	if err != nil {
		_ = conn.Close()
		return nil, errors.WithMessage(err, "tls handshake failed")
	}
	return tlsConn, nil
}

func (p *Pool) evictDead() {
	evicted := p.pool.Evict(func(cc *http2.ClientConn) bool {
		st := cc.State()
		return st.Closed || (st.Closing && st.StreamsActive == 0 && st.StreamsPending == 0)
	})
	for _, cc := range evicted {
		_ = cc.Close()
		p.conns.Dec()
	}
	if len(evicted) > 0 {
		p.log.Debug("Dead connections evicted", zap.Int("evicted", len(evicted)))
	}
}

func hasFreeSlot(cc *http2.ClientConn) bool {
	st := cc.State()
	if st.Closed || st.Closing {
		return false
	}
	used := st.StreamsActive + st.StreamsReserved + st.StreamsPending
	return uint32(used) < st.MaxConcurrentStreams
}

func isAlive(cc *http2.ClientConn) bool {
	st := cc.State()
	return !st.Closed && !st.Closing
}

// Stream is reserved stream slot of pool.
type Stream struct {
	pool   *Pool
	closed atomic.Bool
}

// RoundTrip sends request over pooled connection. Response body should be
// read and closed before stream Close.
func (s *Stream) RoundTrip(req *http.Request) (*http.Response, error) {
	cc, err := s.pool.conn(req.Context())
	if err != nil {
		return nil, err
	}
	return cc.RoundTrip(req)
}

// Close releases stream slot. Repeated calls are no-op.
func (s *Stream) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.pool.streams.Dec()
	}
}

// checkHTTP2 verifies, that h2 was selected by ALPN. Other protocols are not negotiated.
func checkHTTP2(state *tls.ConnectionState) error {
	if p := state.NegotiatedProtocol; p != http2.NextProtoTLS {
		return errors.Errorf("http2: unexpected ALPN protocol %q; want %q", p, http2.NextProtoTLS)
	}
	return nil
}
