// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// H2CServer is cleartext HTTP/2 test target, that accepts prior knowledge connections.
// It counts requests, accepted connections and concurrently served requests.
type H2CServer struct {
	*httptest.Server
	Requests    atomic.Int64
	Connections atomic.Int64

	mu         sync.Mutex
	active     int
	peakActive int
}

// NewH2CServer starts server. Handler is called with zero based index of request in arrival order.
// MaxConcurrentStreams is advertised to clients, zero means http2 package default.
func NewH2CServer(maxConcurrentStreams uint32, handler func(w http.ResponseWriter, r *http.Request, index int64)) *H2CServer {
	s := &H2CServer{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.enter()
		defer s.leave()
		index := s.Requests.Inc() - 1
		handler(w, r, index)
	})
	s.Server = httptest.NewUnstartedServer(h2c.NewHandler(h, &http2.Server{
		MaxConcurrentStreams: maxConcurrentStreams,
	}))
	s.Server.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			s.Connections.Inc()
		}
	}
	s.Server.Start()
	return s
}

// OK writes 200 with short body.
func OK(w http.ResponseWriter, _ *http.Request, _ int64) {
	_, _ = w.Write([]byte("ok"))
}

// ResetOn returns handler that resets stream of request with passed index,
// and responds OK to others.
func ResetOn(index int64) func(w http.ResponseWriter, r *http.Request, i int64) {
	return func(w http.ResponseWriter, r *http.Request, i int64) {
		if i == index {
			panic(http.ErrAbortHandler)
		}
		OK(w, r, i)
	}
}

// PeakActive returns maximum number of concurrently served requests.
func (s *H2CServer) PeakActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakActive
}

func (s *H2CServer) enter() {
	s.mu.Lock()
	s.active++
	if s.active > s.peakActive {
		s.peakActive = s.active
	}
	s.mu.Unlock()
}

func (s *H2CServer) leave() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}
