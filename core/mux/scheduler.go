// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// Package mux drives many logical HTTP requests over transport with bounded
// stream budget. Scheduler is pull based: Advance makes progress without blocking,
// Drain returns completions, Wait blocks until there is something to advance.
package mux

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yandex/muxload/core"
)

// Stream is reserved slot for one request-response exchange.
type Stream interface {
	RoundTrip(req *http.Request) (*http.Response, error)
	// Close releases slot. Called once response body is read and closed.
	Close()
}

// Transport gives stream reservations without blocking.
// It returns false, when stream budget is exhausted.
type Transport interface {
	Reserve() (Stream, bool)
}

// NewTransport adapts reservation func with concrete stream type, like (*h2.Pool).Reserve.
func NewTransport[S Stream](reserve func() (S, bool)) Transport {
	return reserveFunc[S](reserve)
}

type reserveFunc[S Stream] func() (S, bool)

func (f reserveFunc[S]) Reserve() (Stream, bool) {
	s, ok := f()
	if !ok {
		return nil, false
	}
	return s, true
}

type Config struct {
	WaitTimeout time.Duration `config:"wait-timeout" validate:"min-time=1ms"`
	// RequestTimeout bounds every transfer. Zero means no limit.
	RequestTimeout time.Duration `config:"request-timeout" validate:"min-time=0s"`
	// BufferSize is initial capacity of response buffer.
	BufferSize     datasize.ByteSize `config:"buffer-size" validate:"max-size=64MB"`
	ReleaseBuffers bool              `config:"release-buffers"`
	UserAgent      string            `config:"user-agent"`
}

const DefaultUserAgent = "muxload/0.1.0"

func DefaultConfig() Config {
	return Config{
		WaitTimeout: 60 * time.Second,
		BufferSize:  4 * datasize.KB,
		UserAgent:   DefaultUserAgent,
	}
}

// Scheduler is not goroutine safe: Submit, Advance, Drain, Wait and Run
// should be called from one goroutine.
type Scheduler struct {
	log  *zap.Logger
	tr   Transport
	conf Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	table       TokenTable
	pending     []*Handle // Submitted, but not started yet. FIFO.
	outstanding int       // Submitted and not completed.
	ready       []core.Completion

	mu       sync.Mutex
	finished []finished
	activity chan struct{}
}

type finished struct {
	token  core.Token
	status int
	err    error
}

func New(log *zap.Logger, tr Transport, conf Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:      log,
		tr:       tr,
		conf:     conf,
		ctx:      ctx,
		cancel:   cancel,
		activity: make(chan struct{}, 1),
	}
}

// Submit registers GET request to target, and returns its token.
// Transfer starts on one of next Advance calls.
func (s *Scheduler) Submit(target string) (core.Token, error) {
	u, err := url.Parse(target)
	if err == nil && (u.Scheme != "http" && u.Scheme != "https" || u.Host == "") {
		err = errors.New("absolute http or https URL expected")
	}
	var req *http.Request
	if err == nil {
		req, err = http.NewRequestWithContext(s.ctx, http.MethodGet, target, nil)
	}
	if err != nil {
		return -1, &core.SubmissionError{URL: target, Err: err}
	}
	if s.conf.UserAgent != "" {
		req.Header.Set("User-Agent", s.conf.UserAgent)
	}
	h := &Handle{req: req}
	token := s.table.Insert(h)
	s.pending = append(s.pending, h)
	s.outstanding++
	return token, nil
}

// Advance collects finished transfers, and starts pending ones while transport
// has free streams. Returns true, if some submitted transfer has no result yet.
// Error is returned only on internal inconsistency, and scheduler should not be
// used after that.
func (s *Scheduler) Advance() (bool, error) {
	if err := s.collect(); err != nil {
		return false, err
	}
	s.start()
	return s.outstanding > 0, nil
}

// Drain returns completions, recorded since last Drain.
func (s *Scheduler) Drain() []core.Completion {
	ready := s.ready
	s.ready = nil
	return ready
}

// Wait blocks until some transfer finishes, timeout elapses or ctx is done.
// Returns ctx error only.
func (s *Scheduler) Wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.activity:
	case <-timer.C:
		s.log.Debug("No activity", zap.Duration("timeout", timeout), zap.Int("outstanding", s.outstanding))
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Run loops until every submitted transfer has result, passing each completion to
// onCompletion. Ctx is checked every iteration.
func (s *Scheduler) Run(ctx context.Context, onCompletion func(c core.Completion)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		active, err := s.Advance()
		if err != nil {
			return err
		}
		// Completions, collected in the same Advance, that reported no outstanding work,
		// should be drained too.
		completions := s.Drain()
		for _, c := range completions {
			onCompletion(c)
		}
		if !active {
			return nil
		}
		if len(completions) == 0 {
			if err := s.Wait(ctx, s.conf.WaitTimeout); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) Table() *TokenTable { return &s.table }

// Outstanding returns number of submitted transfers without result.
func (s *Scheduler) Outstanding() int { return s.outstanding }

// Close cancels in-flight transfers and waits for them.
// Handles and recorded results stay available.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) start() {
	for len(s.pending) > 0 {
		stream, ok := s.tr.Reserve()
		if !ok {
			return
		}
		h := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		h.buf = bytes.NewBuffer(make([]byte, 0, int(s.conf.BufferSize.Bytes())))
		s.wg.Add(1)
		go s.transfer(h.token, h.req, h.buf, stream)
	}
	s.pending = nil
}

// transfer is the only code running out of scheduler goroutine.
// It owns buf, until result is passed to finish.
func (s *Scheduler) transfer(token core.Token, req *http.Request, buf *bytes.Buffer, stream Stream) {
	defer s.wg.Done()
	status, err := s.roundTrip(req, buf, stream)
	stream.Close()
	s.finish(finished{token: token, status: status, err: err})
}

func (s *Scheduler) roundTrip(req *http.Request, buf *bytes.Buffer, stream Stream) (int, error) {
	if s.conf.RequestTimeout > 0 {
		ctx, cancel := context.WithTimeout(req.Context(), s.conf.RequestTimeout)
		defer cancel()
		req = req.WithContext(ctx)
	}
	res, err := stream.RoundTrip(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	_, err = buf.ReadFrom(res.Body)
	return res.StatusCode, err
}

func (s *Scheduler) finish(f finished) {
	s.mu.Lock()
	s.finished = append(s.finished, f)
	s.mu.Unlock()
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

func (s *Scheduler) collect() error {
	s.mu.Lock()
	batch := s.finished
	s.finished = nil
	s.mu.Unlock()
	for i, f := range batch {
		h, err := s.table.Lookup(f.token)
		if err == nil && h.done {
			err = errors.Errorf("token %d completed twice", f.token)
		}
		if err != nil {
			s.mu.Lock()
			s.finished = append(batch[i+1:], s.finished...)
			s.mu.Unlock()
			return err
		}
		res := core.Result{Status: f.status}
		if h.buf != nil {
			res.Size = h.buf.Len()
		}
		if f.err != nil {
			res.Err = &core.TransferError{Token: f.token, URL: h.req.URL.String(), Err: f.err}
		}
		h.complete(res, s.conf.ReleaseBuffers)
		s.outstanding--
		s.ready = append(s.ready, core.Completion{Token: f.token, Result: res})
	}
	return nil
}
