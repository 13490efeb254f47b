// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package monitoring

import (
	"expvar"
	"strconv"

	"go.uber.org/atomic"
)

// Counter is goroutine safe int64 value, that can be published via expvar.
type Counter struct {
	i atomic.Int64
}

var _ expvar.Var = (*Counter)(nil)

func (c *Counter) String() string {
	return strconv.FormatInt(c.i.Load(), 10)
}

func (c *Counter) Add(delta int64) {
	c.i.Add(delta)
}

func (c *Counter) Set(value int64) {
	c.i.Store(value)
}

func (c *Counter) Get() int64 {
	return c.i.Load()
}

// NewCounter creates counter and publishes it in expvar.
// Panics if name is already registered.
func NewCounter(name string) *Counter {
	v := &Counter{}
	expvar.Publish(name, v)
	return v
}

// Gauge tracks current value and its high watermark.
// Used for values like active streams, where the peak matters more than the last value.
type Gauge struct {
	cur  atomic.Int64
	peak atomic.Int64
}

var _ expvar.Var = (*Gauge)(nil)

func (g *Gauge) String() string {
	return strconv.FormatInt(g.cur.Load(), 10)
}

func (g *Gauge) Inc() int64 { return g.Add(1) }
func (g *Gauge) Dec() int64 { return g.Add(-1) }

// Add changes current value and updates peak. Returns new current value.
func (g *Gauge) Add(delta int64) int64 {
	v := g.cur.Add(delta)
	g.updatePeak(v)
	return v
}

// TryInc increments value only if it is less than limit.
// Value never exceeds limit because of TryInc, even transiently.
func (g *Gauge) TryInc(limit int64) bool {
	for {
		v := g.cur.Load()
		if v >= limit {
			return false
		}
		if g.cur.CompareAndSwap(v, v+1) {
			g.updatePeak(v + 1)
			return true
		}
	}
}

func (g *Gauge) updatePeak(v int64) {
	for {
		peak := g.peak.Load()
		if v <= peak || g.peak.CompareAndSwap(peak, v) {
			return
		}
	}
}

func (g *Gauge) Get() int64  { return g.cur.Load() }
func (g *Gauge) Peak() int64 { return g.peak.Load() }
