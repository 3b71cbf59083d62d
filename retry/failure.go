// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import "github.com/gogama/httpchan/message"

// DefaultAttempts is the reconnect budget a channel starts with, and
// is reset to after every successfully completed response.
const DefaultAttempts = 3

// A Failure describes a recoverable-looking transport failure on a
// channel. A Policy examines it to decide whether the channel should
// transparently reconnect and resend, and how long to wait first.
type Failure struct {
	// Message is the in-flight message at the time of the failure, or
	// nil if no message was in flight.
	Message *message.Message

	// Kind is the classification of Err.
	Kind message.ErrorKind

	// Err is the failure reported by the transport.
	Err error

	// Budget is the number of reconnect attempts the channel has left,
	// not counting the one being decided.
	Budget int

	// Attempt is the zero-based index of the reconnect being decided,
	// that is, the number of consecutive failures already absorbed
	// since the last successful response.
	Attempt int
}

// Idempotent reports whether the in-flight message, if any, may be
// resent safely.
func (f *Failure) Idempotent() bool {
	return f.Message == nil || f.Message.Request.Idempotent()
}
