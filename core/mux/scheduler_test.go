// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package mux

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"go.uber.org/atomic"

	"github.com/yandex/muxload/components/h2"
	"github.com/yandex/muxload/core"
	"github.com/yandex/muxload/lib/testutil"
)

var _ = Describe("scheduler", func() {
	var (
		handler    func(w http.ResponseWriter, r *http.Request, i int64)
		srvStreams uint32
		server     *testutil.H2CServer

		maxConns   int
		maxStreams int
		conf       Config
		pool       *h2.Pool
		s          *Scheduler

		completions []core.Completion
		onCompletion = func(c core.Completion) { completions = append(completions, c) }
	)

	BeforeEach(func() {
		handler = testutil.OK
		srvStreams = 0
		maxConns = 2
		maxStreams = 8
		conf = DefaultConfig()
		conf.WaitTimeout = time.Second
		completions = nil
	})

	JustBeforeEach(func() {
		server = testutil.NewH2CServer(srvStreams, handler)
		pool = newTestPool(server.URL, maxConns, maxStreams)
		s = New(testutil.NewLogger(), NewTransport(pool.Reserve), conf)
	})

	AfterEach(func() {
		s.Close()
		Expect(pool.Close()).To(Succeed())
		server.Close()
	})

	failed := func() (failed []core.Completion) {
		for _, c := range completions {
			if c.Failed() {
				failed = append(failed, c)
			}
		}
		return
	}

	Context("all responses ok", func() {
		It("resolves every token", func() {
			submitAll(s, server.URL, 10)
			Expect(s.Run(context.Background(), onCompletion)).To(Succeed())

			Expect(completions).To(HaveLen(10))
			Expect(failed()).To(BeEmpty())
			s.Table().Each(func(h *Handle) {
				res, done := h.Result()
				Expect(done).To(BeTrue())
				Expect(res.Status).To(Equal(http.StatusOK))
				Expect(res.Size).To(Equal(2))
				Expect(string(h.Body())).To(Equal("ok"))
			})
			Expect(s.Outstanding()).To(BeZero())
		}, 5)
	})

	Context("stream reset", func() {
		BeforeEach(func() {
			handler = testutil.ResetOn(3)
			maxStreams = 1 // Requests arrive in submission order.
		})
		It("fails only reset transfer", func() {
			submitAll(s, server.URL, 10)
			Expect(s.Run(context.Background(), onCompletion)).To(Succeed())

			Expect(completions).To(HaveLen(10))
			f := failed()
			Expect(f).To(HaveLen(1))
			Expect(f[0].Token).To(Equal(core.Token(3)))
			var transferErr *core.TransferError
			Expect(errors.As(f[0].Err, &transferErr)).To(BeTrue())
			Expect(transferErr.Token).To(Equal(core.Token(3)))
			Expect(transferErr.URL).To(Equal(server.URL))
		}, 5)
	})

	Context("many requests over few connections", func() {
		const n = 300
		BeforeEach(func() {
			srvStreams = 5
			maxConns = 3
			maxStreams = 16
			handler = func(w http.ResponseWriter, r *http.Request, i int64) {
				time.Sleep(time.Millisecond)
				testutil.OK(w, r, i)
			}
		})
		It("resolves each token exactly once within limits", func() {
			submitAll(s, server.URL, n)
			Expect(s.Run(context.Background(), onCompletion)).To(Succeed())

			Expect(completions).To(HaveLen(n))
			seen := map[core.Token]int{}
			for _, c := range completions {
				seen[c.Token]++
			}
			Expect(seen).To(HaveLen(n))
			for token := core.Token(0); token < n; token++ {
				Expect(seen[token]).To(Equal(1), "token %d", token)
			}
			Expect(failed()).To(BeEmpty())

			stats := pool.Stats()
			Expect(stats.PeakStreams).To(BeNumerically("<=", maxStreams))
			Expect(stats.PeakConnections).To(BeNumerically("<=", maxConns))
			Expect(stats.Streams).To(BeZero())
			Expect(server.Connections.Load()).To(BeNumerically("<=", maxConns))
			Expect(server.PeakActive()).To(BeNumerically("<=", maxStreams))
			Expect(server.Requests.Load()).To(BeEquivalentTo(n))
		}, 10)
	})

	Context("non 2xx response", func() {
		BeforeEach(func() {
			handler = func(w http.ResponseWriter, _ *http.Request, _ int64) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		})
		It("is not failure", func() {
			submitAll(s, server.URL, 3)
			Expect(s.Run(context.Background(), onCompletion)).To(Succeed())
			Expect(completions).To(HaveLen(3))
			Expect(failed()).To(BeEmpty())
			for _, c := range completions {
				Expect(c.Status).To(Equal(http.StatusServiceUnavailable))
			}
		}, 5)
	})

	Context("drain", func() {
		It("returns each completion once", func() {
			submitAll(s, server.URL, 5)
			var drained []core.Completion
			for len(drained) < 5 {
				_, err := s.Advance()
				Expect(err).NotTo(HaveOccurred())
				batch := s.Drain()
				Expect(s.Drain()).To(BeEmpty())
				drained = append(drained, batch...)
				if len(batch) == 0 {
					Expect(s.Wait(context.Background(), time.Second)).To(Succeed())
				}
			}
			Expect(drained).To(HaveLen(5))
			active, err := s.Advance()
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeFalse())
			Expect(s.Drain()).To(BeEmpty())
		}, 5)
	})

	Context("release buffers", func() {
		BeforeEach(func() {
			conf.ReleaseBuffers = true
		})
		It("keeps result", func() {
			submitAll(s, server.URL, 3)
			Expect(s.Run(context.Background(), onCompletion)).To(Succeed())
			s.Table().Each(func(h *Handle) {
				Expect(h.Done()).To(BeTrue())
				Expect(h.Body()).To(BeNil())
				res, _ := h.Result()
				Expect(res.Size).To(Equal(2))
			})
		}, 5)
	})

	Context("request timeout", func() {
		BeforeEach(func() {
			conf.RequestTimeout = 50 * time.Millisecond
			handler = func(w http.ResponseWriter, r *http.Request, _ int64) {
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			}
		})
		It("fails transfer", func() {
			submitAll(s, server.URL, 2)
			Expect(s.Run(context.Background(), onCompletion)).To(Succeed())
			Expect(failed()).To(HaveLen(2))
			Expect(errors.Is(completions[0].Err, context.DeadlineExceeded)).To(BeTrue())
		}, 5)
	})

	Context("user agent", func() {
		var agent atomic.String
		BeforeEach(func() {
			conf.UserAgent = "test-agent"
			handler = func(w http.ResponseWriter, r *http.Request, i int64) {
				agent.Store(r.UserAgent())
				testutil.OK(w, r, i)
			}
		})
		It("is sent", func() {
			submitAll(s, server.URL, 1)
			Expect(s.Run(context.Background(), onCompletion)).To(Succeed())
			Expect(agent.Load()).To(Equal("test-agent"))
		}, 5)
	})

	Context("close", func() {
		BeforeEach(func() {
			handler = func(w http.ResponseWriter, r *http.Request, _ int64) {
				<-r.Context().Done()
			}
		})
		It("cancels in flight transfers", func() {
			submitAll(s, server.URL, 3)
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			Expect(s.Run(ctx, onCompletion)).To(Equal(context.DeadlineExceeded))
			s.Close()
			Expect(pool.Stats().Streams).To(BeZero())
		}, 5)
	})
})

var _ = Describe("scheduler without transport", func() {
	var s *Scheduler
	BeforeEach(func() {
		s = New(testutil.NewLogger(), closedTransport{}, DefaultConfig())
	})
	AfterEach(func() {
		s.Close()
	})

	DescribeTable("invalid target",
		func(target string) {
			_, err := s.Submit(target)
			var submitErr *core.SubmissionError
			Expect(errors.As(err, &submitErr)).To(BeTrue())
			Expect(submitErr.URL).To(Equal(target))
			Expect(s.Table().Len()).To(BeZero())
		},
		Entry("malformed", "http://[::1"),
		Entry("relative", "/path"),
		Entry("no host", "http:///path"),
		Entry("unsupported scheme", "ftp://localhost/file"),
	)

	It("reports no work, when nothing submitted", func() {
		active, err := s.Advance()
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(BeFalse())
		Expect(s.Run(context.Background(), func(core.Completion) { Fail("unexpected completion") })).To(Succeed())
	})

	It("waits for timeout", func() {
		submitAll(s, "http://localhost/", 1)
		active, err := s.Advance()
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(BeTrue())
		start := time.Now()
		Expect(s.Wait(context.Background(), 20*time.Millisecond)).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically(">=", 20*time.Millisecond))
	})

	It("stops run on context cancel", func() {
		submitAll(s, "http://localhost/", 1)
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)
		err := s.Run(ctx, func(core.Completion) { Fail("unexpected completion") })
		Expect(err).To(Equal(context.Canceled))
	}, 1)

	It("fails on unknown token", func() {
		submitAll(s, "http://localhost/", 2)
		s.finish(finished{token: 7, status: http.StatusOK})
		_, err := s.Advance()
		var lookupErr *core.LookupError
		Expect(errors.As(err, &lookupErr)).To(BeTrue())
		Expect(lookupErr.Token).To(Equal(core.Token(7)))
		Expect(lookupErr.Len).To(Equal(2))
	})
})
