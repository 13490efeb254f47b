// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yandex/muxload/components/h2"
	"github.com/yandex/muxload/core"
	"github.com/yandex/muxload/core/config"
	"github.com/yandex/muxload/core/mux"
	"github.com/yandex/muxload/lib/errutil"
	"github.com/yandex/muxload/lib/monitoring"
	"github.com/yandex/muxload/lib/netutil"
)

type Config struct {
	Target string `config:"target" validate:"required,target"`
	// Workers is number of independent workers. Each one has own connection pool,
	// and sends all Requests.
	Workers      int           `config:"workers" validate:"min=1"`
	Requests     int           `config:"requests" validate:"min=1"`
	StatusPolicy string        `config:"status-policy"`
	Pool         h2.PoolConfig `config:",squash"`
	Scheduler    mux.Config    `config:",squash"`
}

func DefaultConfig() Config {
	return Config{
		Workers:      2,
		Requests:     100000,
		StatusPolicy: "any",
		Pool:         h2.DefaultPoolConfig(),
		Scheduler:    mux.DefaultConfig(),
	}
}

var _ = config.RegisterCustom(func(h config.ValidateHandle) {
	conf := h.Value().(Config)
	if _, err := core.NewStatusPolicy(conf.StatusPolicy); err != nil {
		h.ReportError("StatusPolicy", err.Error())
	}
}, Config{})

type Metrics struct {
	Submitted      *monitoring.Counter
	Resolved       *monitoring.Counter
	TransferErrors *monitoring.Counter
	WorkerStart    *monitoring.Counter
	WorkerFinish   *monitoring.Counter
}

func New(log *zap.Logger, m Metrics, conf Config) *Engine {
	e := &Engine{log: log, config: conf, metrics: m}
	e.newWorker = e.defaultWorker
	return e
}

type Engine struct {
	log     *zap.Logger
	config  Config
	metrics Metrics
	// newWorker is replaced in tests.
	newWorker func(id string, policy core.StatusPolicy) *Worker
}

// Result holds reports of workers, that finished submission, and totals over them.
type Result struct {
	Reports    []Report
	Requests   int
	Succeeded  int
	Failed     int
	Rejected   int
	Throughput float64
}

func (r *Result) add(rep Report) {
	r.Reports = append(r.Reports, rep)
	r.Requests += rep.Requests
	r.Succeeded += rep.Succeeded
	r.Failed += rep.Failed
	r.Rejected += rep.Rejected
	r.Throughput += rep.Throughput
}

// Run runs all workers and blocks until every one of them returns.
// Failure of one worker doesn't stop others. Errors of failed workers are joined.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	policy, err := core.NewStatusPolicy(e.config.StatusPolicy)
	if err != nil {
		return Result{}, err
	}
	e.warmDNSCache(ctx)

	type runResult struct {
		report Report
		err    error
	}
	results := make(chan runResult, e.config.Workers)
	for i := 0; i < e.config.Workers; i++ {
		w := e.newWorker(strconv.Itoa(i), policy)
		go func() {
			rep, err := w.Run(ctx)
			results <- runResult{rep, err}
		}()
	}

	var (
		res  Result
		errs error
	)
	for i := 0; i < e.config.Workers; i++ {
		r := <-results
		e.log.Debug("Worker awaited", zap.Int("awaited", i+1), zap.String("worker", r.report.Worker), zap.Error(r.err))
		if r.report.Worker != "" {
			res.add(r.report)
		}
		if errutil.IsNotCtxError(ctx, r.err) {
			errs = errutil.Join(errs, r.err)
		}
	}
	sort.Slice(res.Reports, func(i, j int) bool {
		return res.Reports[i].Worker < res.Reports[j].Worker
	})
	e.log.Info("Engine finished",
		zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed),
		zap.Int("rejected", res.Rejected), zap.Float64("throughput", res.Throughput))
	if errs == nil && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, errs
}

func (e *Engine) defaultWorker(id string, policy core.StatusPolicy) *Worker {
	return newWorker(e.log, id, e.metrics, e.config, policy)
}

// warmDNSCache resolves target once for all workers, so they don't race
// resolving it on first dials.
func (e *Engine) warmDNSCache(ctx context.Context) {
	if !e.config.Pool.Transport.Dial.DNSCache {
		return
	}
	u, err := url.Parse(e.config.Target)
	if err != nil {
		return // Reported by workers.
	}
	addr, err := netutil.HostPort(u)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err = netutil.WarmDNSCache(ctx, netutil.DefaultDNSCache, addr)
	if err != nil {
		e.log.Warn("Target DNS resolve failed", zap.String("addr", addr), zap.Error(errors.Cause(err)))
	}
}
