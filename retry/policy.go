// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import "time"

// A Policy controls whether a channel transparently reconnects and
// resends after a transport failure and, if so, how long it waits
// before asking its pool for a fresh connection attempt.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	Decider
	Waiter
}

// DefaultPolicy is a composition of DefaultDecider for retry decisions
// and DefaultWaiter for wait time calculations.
var DefaultPolicy Policy = policy{DefaultDecider, DefaultWaiter}

// Never is a policy that never resends. Every transport failure with a
// message in flight surfaces to that message.
var Never Policy = policy{Times(0), DefaultWaiter}

type policy struct {
	decider Decider
	waiter  Waiter
}

// NewPolicy composes a Decider and a Waiter into a retry Policy.
func NewPolicy(d Decider, w Waiter) Policy {
	if d == nil {
		panic("httpchan/retry: nil decider")
	}
	if w == nil {
		panic("httpchan/retry: nil waiter")
	}
	return policy{decider: d, waiter: w}
}

func (p policy) Decide(f *Failure) bool {
	return p.decider.Decide(f)
}

func (p policy) Wait(f *Failure) time.Duration {
	return p.waiter.Wait(f)
}
