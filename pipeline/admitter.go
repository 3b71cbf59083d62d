// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package pipeline

import "github.com/gogama/httpchan/message"

// An Admitter decides whether a message may join a channel's pipeline.
// Parameter depth is the number of messages already pipelined behind
// the in-flight message.
type Admitter interface {
	Admit(m *message.Message, depth int) bool
}

// The AdmitterFunc type is an adapter to allow the use of ordinary
// functions as admitters, and provides logical composition.
type AdmitterFunc func(m *message.Message, depth int) bool

// Admit calls f(m, depth).
func (f AdmitterFunc) Admit(m *message.Message, depth int) bool {
	return f(m, depth)
}

// And composes two admitters into one admitting a message only if
// both do. Short-circuit logic is used.
func (f AdmitterFunc) And(g AdmitterFunc) AdmitterFunc {
	return func(m *message.Message, depth int) bool {
		return f(m, depth) && g(m, depth)
	}
}

// Eligible admits bodiless GET and HEAD requests which do not ask for
// the connection to be closed.
var Eligible AdmitterFunc = eligible

// Depth constructs an admitter allowing at most n pipelined messages.
func Depth(n int) AdmitterFunc {
	return func(_ *message.Message, depth int) bool {
		return depth < n
	}
}

func eligible(m *message.Message, _ int) bool {
	r := m.Request
	switch r.MethodName() {
	case "GET", "HEAD":
	default:
		return false
	}
	return !r.HasBody() && !r.Close && r.Header.Get("Upgrade") == ""
}
