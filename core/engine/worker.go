// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/yandex/muxload/components/h2"
	"github.com/yandex/muxload/core"
	"github.com/yandex/muxload/core/mux"
	"github.com/yandex/muxload/lib/errutil"
)

// Report is result of one worker run.
type Report struct {
	Worker    string
	Requests  int
	Succeeded int
	// Failed transfers got no response.
	Failed int
	// Rejected transfers got response, which status was not accepted by status policy.
	Rejected        int
	Statuses        map[int]int
	Elapsed         time.Duration
	Throughput      float64
	PeakStreams     int64
	PeakConnections int64
}

// Resolved returns number of transfers with terminal result.
func (r Report) Resolved() int { return r.Succeeded + r.Failed + r.Rejected }

// Worker submits all requests to its own scheduler, and drives it until
// every request is resolved.
type Worker struct {
	log     *zap.Logger
	id      string
	metrics Metrics
	conf    Config
	policy  core.StatusPolicy
}

func newWorker(log *zap.Logger, id string, m Metrics, conf Config, policy core.StatusPolicy) *Worker {
	log = log.With(zap.String("worker", id))
	return &Worker{log: log, id: id, metrics: m, conf: conf, policy: policy}
}

// Run returns SubmissionError, if transport or requests can't be set up.
// Report is filled, if all requests were submitted, even when run was canceled.
// Report is empty on panic: counts of broken run are not trusted.
func (w *Worker) Run(ctx context.Context) (rep Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			rep = Report{}
			err = &core.WorkerPanic{Worker: w.id, Err: errutil.FromPanic(r)}
			w.log.Error("Worker panic", zap.Error(err))
		}
	}()
	w.log.Info("Worker started",
		zap.String("target", w.conf.Target),
		zap.Int("requests", w.conf.Requests),
		zap.Int("max-connections", w.conf.Pool.MaxConnections),
		zap.Int("max-streams", w.conf.Pool.MaxStreams),
		zap.Duration("wait-timeout", w.conf.Scheduler.WaitTimeout))
	w.metrics.WorkerStart.Add(1)
	defer w.metrics.WorkerFinish.Add(1)

	target, err := url.Parse(w.conf.Target)
	if err != nil {
		return rep, &core.SubmissionError{URL: w.conf.Target, Err: err}
	}
	pool, err := h2.NewPool(w.log, target, w.conf.Pool)
	if err != nil {
		return rep, &core.SubmissionError{URL: w.conf.Target, Err: err}
	}
	defer func() {
		if err := pool.Close(); err != nil {
			w.log.Debug("Connection pool close failed", zap.Error(err))
		}
	}()
	sched := mux.New(w.log, mux.NewTransport(pool.Reserve), w.conf.Scheduler)
	defer sched.Close()

	for i := 0; i < w.conf.Requests; i++ {
		if _, err := sched.Submit(w.conf.Target); err != nil {
			return rep, err
		}
		w.metrics.Submitted.Add(1)
	}

	rep = Report{
		Worker:   w.id,
		Requests: w.conf.Requests,
		Statuses: map[int]int{},
	}
	start := time.Now()
	err = sched.Run(ctx, func(c core.Completion) {
		w.record(&rep, c)
	})
	rep.Elapsed = time.Since(start)
	if secs := rep.Elapsed.Seconds(); secs > 0 {
		rep.Throughput = float64(rep.Resolved()) / secs
	}
	stats := pool.Stats()
	rep.PeakStreams = stats.PeakStreams
	rep.PeakConnections = stats.PeakConnections
	if err != nil {
		if errutil.IsCtxError(ctx, err) {
			w.log.Info("Worker canceled", zap.Int("resolved", rep.Resolved()))
		} else {
			w.log.Error("Worker run failed", zap.Int("resolved", rep.Resolved()), zap.Error(err))
		}
		return rep, err
	}
	w.log.Info("Worker finished",
		zap.Duration("elapsed", rep.Elapsed),
		zap.Float64("throughput", rep.Throughput),
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("failed", rep.Failed),
		zap.Int("rejected", rep.Rejected),
		zap.Int64("dials", stats.Dials))
	return rep, nil
}

func (w *Worker) record(rep *Report, c core.Completion) {
	w.metrics.Resolved.Add(1)
	if c.Failed() {
		rep.Failed++
		w.metrics.TransferErrors.Add(1)
		w.log.Warn("Transfer failed", zap.String("url", w.conf.Target), zap.Error(c.Err))
		return
	}
	rep.Statuses[c.Status]++
	if w.policy.Accept(c.Status) {
		rep.Succeeded++
	} else {
		rep.Rejected++
	}
}
