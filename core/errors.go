// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
)

// SubmissionError means that request can't be even started: malformed target,
// transport init failure and so on. It is configuration problem, so it is fatal for worker.
type SubmissionError struct {
	URL string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %q failed: %s", e.URL, e.Err)
}

func (e *SubmissionError) Cause() error  { return e.Err }
func (e *SubmissionError) Unwrap() error { return e.Err }

// TransferError is transport failure of submitted request: reset, timeout, protocol error.
// Recorded as terminal result of its token. Other transfers are not affected.
type TransferError struct {
	Token Token
	URL   string
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer #%d %q failed: %s", e.Token, e.URL, e.Err)
}

func (e *TransferError) Cause() error  { return e.Err }
func (e *TransferError) Unwrap() error { return e.Err }

// LookupError means completion for token that was never submitted.
// That is broken internal invariant, and should never be ignored.
type LookupError struct {
	Token Token
	Len   int
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("unknown token %d: %d tokens were submitted", e.Token, e.Len)
}

// WorkerPanic is panic recovered at worker boundary.
type WorkerPanic struct {
	Worker string
	Err    error
}

func (e *WorkerPanic) Error() string {
	return fmt.Sprintf("worker %s panic: %s", e.Worker, e.Err)
}

func (e *WorkerPanic) Cause() error  { return e.Err }
func (e *WorkerPanic) Unwrap() error { return e.Err }
