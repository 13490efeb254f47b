// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package cli

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yandex/muxload/core/engine"
	"github.com/yandex/muxload/lib/monitoring"
)

func newEngineMetrics() engine.Metrics {
	return engine.Metrics{
		Submitted:      monitoring.NewCounter("engine_Submitted"),
		Resolved:       monitoring.NewCounter("engine_Resolved"),
		TransferErrors: monitoring.NewCounter("engine_TransferErrors"),
		WorkerStart:    monitoring.NewCounter("engine_WorkersStarted"),
		WorkerFinish:   monitoring.NewCounter("engine_WorkersFinished"),
	}
}

// reporter logs engine progress once per report.
type reporter struct {
	log *zap.Logger

	m         engine.Metrics
	submitted int64
	resolved  int64

	evSubmitPS        *monitoring.Counter
	evResolvePS       *monitoring.Counter
	evActiveWorkers   *monitoring.Counter
	evActiveTransfers *monitoring.Counter
}

func newReporter(log *zap.Logger, m engine.Metrics) *reporter {
	return &reporter{
		log:               log,
		m:                 m,
		submitted:         m.Submitted.Get(),
		resolved:          m.Resolved.Get(),
		evSubmitPS:        monitoring.NewCounter("engine_SubmitPS"),
		evResolvePS:       monitoring.NewCounter("engine_ResolvePS"),
		evActiveWorkers:   monitoring.NewCounter("engine_ActiveWorkers"),
		evActiveTransfers: monitoring.NewCounter("engine_ActiveTransfers"),
	}
}

func (r *reporter) report() {
	submitted := r.m.Submitted.Get()
	resolved := r.m.Resolved.Get()
	resolvePS := resolved - r.resolved
	submitPS := submitted - r.submitted
	activeWorkers := r.m.WorkerStart.Get() - r.m.WorkerFinish.Get()
	activeTransfers := submitted - resolved
	r.log.Sugar().Infof(
		"[ENGINE] %d resp/s; %d req/s; %d workers; %d active",
		resolvePS, submitPS, activeWorkers, activeTransfers)

	r.submitted = submitted
	r.resolved = resolved

	r.evActiveWorkers.Set(activeWorkers)
	r.evActiveTransfers.Set(activeTransfers)
	r.evSubmitPS.Set(submitPS)
	r.evResolvePS.Set(resolvePS)
}

// startReport reports every second until stop call or ctx cancel.
// Stop blocks until reporting goroutine exits.
func startReport(ctx context.Context, log *zap.Logger, m engine.Metrics) (stop func()) {
	r := newReporter(log, m)
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.report()
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
