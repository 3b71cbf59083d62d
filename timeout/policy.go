// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import "time"

// A Phase is the part of a channel's life a timeout applies to.
type Phase int

const (
	// Connect covers establishing the transport, including the TLS
	// handshake.
	Connect Phase = iota
	// Write covers serializing a request onto the transport, up to the
	// point the last byte has been accepted.
	Write
)

func (p Phase) String() string {
	if p == Connect {
		return "connect"
	}
	return "write"
}

// An Attempt describes the operation a channel is about to time.
type Attempt struct {
	// Phase is the phase being timed.
	Phase Phase
	// Timeouts is the number of consecutive timeouts the channel has
	// absorbed since its last successful response.
	Timeouts int
}

// A Policy defines a timeout policy which may be plugged into a
// connection channel to direct how long connecting and writing may
// take, both initially and on reconnects.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	// Timeout returns the timeout to set on the attempt. A value of
	// Never or greater means the channel arms no timer at all.
	Timeout(a *Attempt) time.Duration
}

// Never is the largest time.Duration. A policy returning it disables
// the timer.
const Never = time.Duration(1<<63 - 1)

// DefaultPolicy is the default timeout policy. It sets a fixed timeout
// of 30 seconds on each attempt.
var DefaultPolicy Policy = Fixed(30 * time.Second)

// Infinite is a built-in timeout policy which never times out.
var Infinite Policy = Fixed(Never)

// Fixed constructs a timeout policy that uses the same value for every
// attempt.
func Fixed(d time.Duration) Policy {
	return policy([]time.Duration{d})
}

// Adaptive constructs a timeout policy that varies the next timeout
// value if previous attempts timed out.
//
// Parameter usual is the timeout returned while the channel has seen
// no timeout since its last successful response.
//
// Parameter after contains timeout values the policy will return once
// attempts have timed out: after[0] after the first timeout, after[1]
// after the second, and so on. If more attempts have timed out than
// after has elements, then the last element of after is returned.
//
// Consider the following timeout policy:
//
//	p := Adaptive(200*time.Millisecond, time.Second, 10*time.Second)
//
// The policy p will use 200 milliseconds as the usual timeout, 1 second
// after one timeout, and 10 seconds after two or more.
func Adaptive(usual time.Duration, after ...time.Duration) Policy {
	p := make([]time.Duration, 1, 1+len(after))
	p[0] = usual
	return policy(append(p, after...))
}

type policy []time.Duration

func (p policy) Timeout(a *Attempt) time.Duration {
	i := a.Timeouts
	if i < 0 {
		i = 0
	}
	if i > len(p)-1 {
		i = len(p) - 1
	}

	return p[i]
}
