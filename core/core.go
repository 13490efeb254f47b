// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// Package core defines types shared by multiplexed scheduler, workers and reporting:
// request tokens, transfer results, completion events and error taxonomy.
package core

import (
	"fmt"
	"strings"
)

// Token is dense, zero-based index of request in submission order.
// Unique only within one scheduler.
type Token int

// Result is terminal result of one transfer.
// Err is non-nil only for transport failures. Any received HTTP status,
// including non-2xx, is successful transfer result.
type Result struct {
	Status int
	Size   int
	Err    error
}

func (r Result) Failed() bool { return r.Err != nil }

func (r Result) String() string {
	if r.Err != nil {
		return "error: " + r.Err.Error()
	}
	return fmt.Sprintf("status %d, %d bytes", r.Status, r.Size)
}

// Completion notifies that transfer with Token got terminal Result.
type Completion struct {
	Token Token
	Result
}

// StatusPolicy classifies HTTP statuses of successful transfers for reporting.
// Rejected statuses don't make transfer failed.
type StatusPolicy interface {
	Accept(status int) bool
}

type StatusPolicyFunc func(status int) bool

func (f StatusPolicyFunc) Accept(status int) bool { return f(status) }

var (
	// AnyStatus accepts every received response.
	AnyStatus StatusPolicy = StatusPolicyFunc(func(int) bool { return true })
	// SuccessStatus accepts only 2xx responses.
	SuccessStatus StatusPolicy = StatusPolicyFunc(func(status int) bool {
		return status >= 200 && status < 300
	})
)

// NewStatusPolicy returns policy by its config name: "any" or "2xx".
func NewStatusPolicy(name string) (StatusPolicy, error) {
	switch strings.ToLower(name) {
	case "", "any":
		return AnyStatus, nil
	case "2xx":
		return SuccessStatus, nil
	}
	return nil, fmt.Errorf("unknown status policy %q", name)
}
