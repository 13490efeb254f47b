// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// Package clientpool provides fixed capacity pool of clients, picked round robin.
// Pool is not goroutine safe: owner should guard it.
package clientpool

import (
	"errors"
)

var ErrPoolFull = errors.New("pool is full")

func New[T any](size int) (*Pool[T], error) {
	if size <= 0 {
		return nil, errors.New("pool size must be greater than zero")
	}
	return &Pool[T]{
		pool: make([]T, 0, size),
	}, nil
}

type Pool[T any] struct {
	pool []T
	i    int
}

// Add adds client, if pool is not full.
func (p *Pool[T]) Add(client T) error {
	if p.Full() {
		return ErrPoolFull
	}
	p.pool = append(p.pool, client)
	return nil
}

// Next returns next client in round robin order, or zero value if pool is empty.
func (p *Pool[T]) Next() T {
	if len(p.pool) == 0 {
		var zero T
		return zero
	}
	p.i = (p.i + 1) % len(p.pool)
	return p.pool[p.i]
}

// Find returns first client, starting from next in round robin order, for which ok returns true.
// Found client becomes last picked.
func (p *Pool[T]) Find(ok func(T) bool) (client T, found bool) {
	n := len(p.pool)
	for k := 1; k <= n; k++ {
		i := (p.i + k) % n
		if ok(p.pool[i]) {
			p.i = i
			return p.pool[i], true
		}
	}
	return
}

// Evict removes clients for which dead returns true, and returns them.
func (p *Pool[T]) Evict(dead func(T) bool) (evicted []T) {
	alive := p.pool[:0]
	for _, c := range p.pool {
		if dead(c) {
			evicted = append(evicted, c)
			continue
		}
		alive = append(alive, c)
	}
	var zero T
	for i := len(alive); i < len(p.pool); i++ {
		p.pool[i] = zero // Let GC collect evicted.
	}
	p.pool = alive
	if p.i >= len(p.pool) {
		p.i = 0
	}
	return
}

func (p *Pool[T]) Each(fn func(T)) {
	for _, c := range p.pool {
		fn(c)
	}
}

func (p *Pool[T]) Len() int   { return len(p.pool) }
func (p *Pool[T]) Cap() int   { return cap(p.pool) }
func (p *Pool[T]) Full() bool { return len(p.pool) == cap(p.pool) }
