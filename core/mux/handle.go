// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package mux

import (
	"bytes"
	"net/http"

	"github.com/yandex/muxload/core"
)

// Handle is one logical request. It is owned by Scheduler, that created it,
// for whole Scheduler lifetime.
type Handle struct {
	token  core.Token
	req    *http.Request
	buf    *bytes.Buffer
	result core.Result
	done   bool
}

func (h *Handle) Token() core.Token      { return h.token }
func (h *Handle) Request() *http.Request { return h.req }

// Done returns true, after terminal result was recorded.
func (h *Handle) Done() bool { return h.done }

// Result returns terminal result, if transfer is done.
func (h *Handle) Result() (core.Result, bool) { return h.result, h.done }

// Body returns received response data. Nil, if transfer not started,
// or buffer was released after completion.
func (h *Handle) Body() []byte {
	if h.buf == nil {
		return nil
	}
	return h.buf.Bytes()
}

func (h *Handle) complete(res core.Result, release bool) {
	h.result = res
	h.done = true
	if release {
		h.buf = nil
	}
}

// TokenTable maps dense tokens to handles. Tokens are assigned in submission
// order starting from zero, so handles are stored in slice indexed by token.
// TokenTable is not goroutine safe.
type TokenTable struct {
	handles []*Handle
}

// Insert assigns next token to handle.
func (t *TokenTable) Insert(h *Handle) core.Token {
	h.token = core.Token(len(t.handles))
	t.handles = append(t.handles, h)
	return h.token
}

func (t *TokenTable) Lookup(token core.Token) (*Handle, error) {
	if token < 0 || int(token) >= len(t.handles) {
		return nil, &core.LookupError{Token: token, Len: len(t.handles)}
	}
	return t.handles[token], nil
}

func (t *TokenTable) Len() int { return len(t.handles) }

// Each calls fn for every handle in submission order.
func (t *TokenTable) Each(fn func(h *Handle)) {
	for _, h := range t.handles {
		fn(h)
	}
}
