// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/yandex/muxload/core"
	"github.com/yandex/muxload/core/config"
	"github.com/yandex/muxload/lib/testutil"
)

var _ = Describe("worker", func() {
	var (
		handler func(w http.ResponseWriter, r *http.Request, i int64)
		server  *testutil.H2CServer
		conf    Config
		policy  core.StatusPolicy
		metrics Metrics
	)
	BeforeEach(func() {
		handler = testutil.OK
		policy = core.AnyStatus
		metrics = newTestMetrics()
	})
	JustBeforeEach(func() {
		server = testutil.NewH2CServer(0, handler)
		conf = newTestConfig(server.URL)
	})
	AfterEach(func() {
		server.Close()
	})

	It("reports all responses ok", func() {
		w := newWorker(testutil.NewLogger(), "0", metrics, conf, policy)
		rep, err := w.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Worker).To(Equal("0"))
		Expect(rep.Requests).To(Equal(10))
		Expect(rep.Succeeded).To(Equal(10))
		Expect(rep.Failed).To(BeZero())
		Expect(rep.Statuses).To(Equal(map[int]int{http.StatusOK: 10}))
		Expect(rep.Resolved()).To(Equal(10))
		Expect(rep.Throughput).To(BeNumerically(">", 0))
		Expect(rep.PeakStreams).To(BeNumerically("<=", conf.Pool.MaxStreams))
		Expect(rep.PeakConnections).To(BeNumerically("<=", conf.Pool.MaxConnections))

		Expect(metrics.Submitted.Get()).To(BeEquivalentTo(10))
		Expect(metrics.Resolved.Get()).To(BeEquivalentTo(10))
		Expect(metrics.WorkerStart.Get()).To(BeEquivalentTo(1))
		Expect(metrics.WorkerFinish.Get()).To(BeEquivalentTo(1))
	}, 5)

	Context("stream reset", func() {
		BeforeEach(func() {
			handler = testutil.ResetOn(3)
		})
		It("counts and logs transfer error", func() {
			conf.Pool.MaxStreams = 1
			log, logs := testutil.NewObservedLogger()
			rep, err := newWorker(log, "0", metrics, conf, policy).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Succeeded).To(Equal(9))
			Expect(rep.Failed).To(Equal(1))
			Expect(rep.Resolved()).To(Equal(10))
			Expect(metrics.TransferErrors.Get()).To(BeEquivalentTo(1))

			failed := logs.FilterMessage("Transfer failed").All()
			Expect(failed).To(HaveLen(1))
			Expect(failed[0].ContextMap()).To(HaveKeyWithValue("url", server.URL))
			Expect(failed[0].ContextMap()).To(HaveKeyWithValue("worker", "0"))
			Expect(logs.FilterMessage("Worker finished").Len()).To(Equal(1))
		}, 5)
	})

	Context("status policy", func() {
		BeforeEach(func() {
			policy = core.SuccessStatus
			handler = func(w http.ResponseWriter, r *http.Request, i int64) {
				if i%2 == 1 {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				testutil.OK(w, r, i)
			}
		})
		It("rejects non 2xx", func() {
			rep, err := newWorker(testutil.NewLogger(), "0", metrics, conf, policy).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Succeeded).To(Equal(5))
			Expect(rep.Rejected).To(Equal(5))
			Expect(rep.Failed).To(BeZero())
			Expect(rep.Statuses).To(Equal(map[int]int{http.StatusOK: 5, http.StatusNotFound: 5}))
		}, 5)
	})

	It("fails on bad target", func() {
		conf.Target = "ftp://localhost/file"
		_, err := newWorker(testutil.NewLogger(), "0", metrics, conf, policy).Run(context.Background())
		var submitErr *core.SubmissionError
		Expect(errors.As(err, &submitErr)).To(BeTrue())
		Expect(metrics.Submitted.Get()).To(BeZero())
	})

	It("recovers panic", func() {
		policy = core.StatusPolicyFunc(func(int) bool { panic("policy panic") })
		rep, err := newWorker(testutil.NewLogger(), "0", metrics, conf, policy).Run(context.Background())
		Expect(rep).To(BeZero())
		var workerPanic *core.WorkerPanic
		Expect(errors.As(err, &workerPanic)).To(BeTrue())
		Expect(workerPanic.Worker).To(Equal("0"))
		Expect(err.Error()).To(ContainSubstring("policy panic"))
		Expect(metrics.WorkerFinish.Get()).To(BeEquivalentTo(1))
	}, 5)
})

var _ = Describe("engine", func() {
	var (
		handler func(w http.ResponseWriter, r *http.Request, i int64)
		server  *testutil.H2CServer
		conf    Config
		metrics Metrics
		engine  *Engine
	)
	BeforeEach(func() {
		handler = testutil.OK
		metrics = newTestMetrics()
	})
	JustBeforeEach(func() {
		server = testutil.NewH2CServer(0, handler)
		conf = newTestConfig(server.URL)
		conf.Workers = 2
		conf.Requests = 50
	})
	AfterEach(func() {
		server.Close()
	})
	newEngine := func() *Engine {
		return New(testutil.NewLogger(), metrics, conf)
	}

	It("runs independent workers", func() {
		engine = newEngine()
		res, err := engine.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reports).To(HaveLen(2))
		for i, rep := range res.Reports {
			Expect(rep.Worker).To(Equal([]string{"0", "1"}[i]))
			Expect(rep.Requests).To(Equal(50))
			Expect(rep.Succeeded).To(Equal(50))
		}
		Expect(res.Requests).To(Equal(100))
		Expect(res.Succeeded).To(Equal(100))
		Expect(res.Failed).To(BeZero())
		Expect(res.Throughput).To(BeNumerically("~", res.Reports[0].Throughput+res.Reports[1].Throughput, 1e-6))
		Expect(server.Requests.Load()).To(BeEquivalentTo(100))
		Expect(server.Connections.Load()).To(BeNumerically("<=", 2*conf.Pool.MaxConnections))
		Expect(metrics.Submitted.Get()).To(BeEquivalentTo(100))
		Expect(metrics.Resolved.Get()).To(BeEquivalentTo(100))
		Expect(metrics.WorkerStart.Get()).To(BeEquivalentTo(2))
		Expect(metrics.WorkerFinish.Get()).To(BeEquivalentTo(2))
	}, 10)

	It("joins other workers, when one fails on submission", func() {
		engine = newEngine()
		engine.newWorker = func(id string, policy core.StatusPolicy) *Worker {
			c := conf
			if id == "1" {
				c.Target = "http://[::1"
			}
			return newWorker(engine.log, id, metrics, c, policy)
		}
		res, err := engine.Run(context.Background())
		Expect(err).To(HaveOccurred())
		var submitErr *core.SubmissionError
		Expect(errors.As(err, &submitErr)).To(BeTrue())
		Expect(res.Reports).To(HaveLen(1))
		Expect(res.Reports[0].Worker).To(Equal("0"))
		Expect(res.Succeeded).To(Equal(50))
	}, 10)

	It("joins other workers, when one panics", func() {
		engine = newEngine()
		engine.newWorker = func(id string, policy core.StatusPolicy) *Worker {
			if id == "0" {
				policy = core.StatusPolicyFunc(func(int) bool { panic("boom") })
			}
			return newWorker(engine.log, id, metrics, conf, policy)
		}
		res, err := engine.Run(context.Background())
		var workerPanic *core.WorkerPanic
		Expect(errors.As(err, &workerPanic)).To(BeTrue())
		Expect(workerPanic.Worker).To(Equal("0"))
		Expect(res.Reports).To(HaveLen(1))
		Expect(res.Reports[0].Worker).To(Equal("1"))
		Expect(res.Reports[0].Succeeded).To(Equal(50))
		Expect(res.Requests).To(Equal(50))
		Expect(res.Succeeded).To(Equal(50))
	}, 10)

	Context("context canceled", func() {
		BeforeEach(func() {
			handler = func(w http.ResponseWriter, r *http.Request, _ int64) {
				<-r.Context().Done()
			}
		})
		It("returns partial result", func() {
			engine = newEngine()
			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(100*time.Millisecond, cancel)
			res, err := engine.Run(ctx)
			Expect(err).To(Equal(context.Canceled))
			Expect(res.Reports).To(HaveLen(2))
			Expect(res.Succeeded).To(BeZero())
		}, 5)
	})

	It("fails on unknown status policy", func() {
		conf.StatusPolicy = "3xx"
		_, err := newEngine().Run(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(server.Requests.Load()).To(BeZero())
	})
})

var _ = Describe("config", func() {
	It("decodes flat yaml", func() {
		data := testutil.ParseYAML(`
target: http://localhost:8080/api
workers: 3
requests: 1000
max-connections: 4
max-streams: 100
wait-timeout: 5s
buffer-size: 1KB
status-policy: 2xx
transport:
  dial:
    dns-cache: false
`)
		conf := DefaultConfig()
		err := config.DecodeAndValidate(data, &conf)
		Expect(err).NotTo(HaveOccurred())
		Expect(conf.Target).To(Equal("http://localhost:8080/api"))
		Expect(conf.Workers).To(Equal(3))
		Expect(conf.Requests).To(Equal(1000))
		Expect(conf.Pool.MaxConnections).To(Equal(4))
		Expect(conf.Pool.MaxStreams).To(Equal(100))
		Expect(conf.Pool.Transport.Dial.DNSCache).To(BeFalse())
		Expect(conf.Pool.Transport.Dial.Timeout).To(Equal(3 * time.Second))
		Expect(conf.Scheduler.WaitTimeout).To(Equal(5 * time.Second))
		Expect(conf.Scheduler.BufferSize.Bytes()).To(BeEquivalentTo(1024))
		Expect(conf.Scheduler.UserAgent).To(Equal("muxload/0.1.0"))
		Expect(conf.StatusPolicy).To(Equal("2xx"))
	})

	DescribeTable("rejects",
		func(yaml string) {
			conf := DefaultConfig()
			err := config.DecodeAndValidate(testutil.ParseYAML(yaml), &conf)
			Expect(err).To(HaveOccurred())
		},
		Entry("missing target", "workers: 1"),
		Entry("non http target", "target: ftp://localhost/file"),
		Entry("zero workers", "{target: 'http://localhost', workers: 0}"),
		Entry("zero streams", "{target: 'http://localhost', max-streams: 0}"),
		Entry("unknown status policy", "{target: 'http://localhost', status-policy: 3xx}"),
		Entry("unknown key", "{target: 'http://localhost', threads: 2}"),
		Entry("tiny wait timeout", "{target: 'http://localhost', wait-timeout: 1us}"),
	)
})
