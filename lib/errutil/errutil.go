// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package errutil

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type StackTracer interface {
	StackTrace() errors.StackTrace
}

// Join merges errors, ignoring nil ones. Result is nil only if both are nil.
func Join(err1, err2 error) error {
	switch {
	case err1 == nil:
		return err2
	case err2 == nil:
		return err1
	default:
		return multierror.Append(err1, err2)
	}
}

// IsCtxError returns true if err is nil, or ctx is done and err was caused by it.
// Only github.com/pkg/errors wrapping is unwrapped.
func IsCtxError(ctx context.Context, err error) bool {
	if err == nil {
		return true
	}
	select {
	case <-ctx.Done():
		return ctx.Err() == errors.Cause(err)
	default:
		return false
	}
}

// IsNotCtxError returns true if err is non-nil and not caused by ctx cancel.
func IsNotCtxError(ctx context.Context, err error) bool {
	return err != nil && !IsCtxError(ctx, err)
}

// FromPanic converts recovered value to error with stack trace.
// Errors are wrapped, other values formatted.
func FromPanic(r interface{}) error {
	if err, ok := r.(error); ok {
		return errors.WithStack(err)
	}
	return errors.New(fmt.Sprint(r))
}
