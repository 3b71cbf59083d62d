// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package retry provides policies deciding whether a connection channel
// transparently reconnects and resends its in-flight work after the
// transport fails, and how long it waits before doing so.
//
// The interface Policy defines a retry Policy. A Policy instance can be
// constructed using NewPolicy by providing a decision-maker, Decider,
// and a wait time calculator, Waiter:
//
//     decider := retry.Budget.
//                    And(retry.Idempotent).
//                    And(retry.Kinds(message.RemoteClosed).Or(retry.TransientErr))
//     waiter := retry.NewExpWaiter(10*time.Millisecond, time.Second, time.Now())
//     policy := retry.NewPolicy(decider, waiter)
//
// Every channel carries a reconnect budget, DefaultAttempts, which is
// decremented on each absorbed failure and reset after each successful
// response. The Budget decider exposes it to policies.
package retry
