// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/transient"
)

// A Decider decides if a channel should reconnect and resend after a
// transport failure.
//
// Implementations of Decider must be safe for concurrent use by
// multiple goroutines.
//
// Use the built-in deciders Budget, Idempotent and TransientErr, and
// the constructors Times and Kinds; or implement your own Decider. Use
// DeciderFunc to convert an ordinary function into a Decider, and to
// compose deciders logically using DeciderFunc.And and DeciderFunc.Or.
type Decider interface {
	Decide(f *Failure) bool
}

// The DeciderFunc type is an adapter to allow the use of ordinary
// functions as retry deciders. It implements the Decider interface, and
// also provides the logical composition methods And and Or.
//
// Every DeciderFunc must be safe for concurrent use by multiple
// goroutines.
type DeciderFunc func(f *Failure) bool

// DefaultDecider is the decider channels use unless configured
// otherwise. It resends while reconnect budget remains, only for
// idempotent requests, and only when the peer closed the connection or
// a write timed out.
var DefaultDecider = Budget.And(Idempotent).And(Kinds(message.RemoteClosed, message.Timeout))

// Budget is a decider that returns true while the channel has
// reconnect budget left.
var Budget DeciderFunc = budget

// Idempotent is a decider that returns true if nothing was in flight,
// or if the in-flight request is idempotent.
var Idempotent DeciderFunc = idempotent

// TransientErr is a decider that indicates a retry if the failure
// error is transient according to transient.Categorize.
var TransientErr DeciderFunc = transientErr

// Decide returns true if the channel should reconnect and resend.
func (f DeciderFunc) Decide(x *Failure) bool {
	return f(x)
}

// And composes two retry deciders into a new decider which returns true
// if both sub-deciders return true, and false otherwise.
//
// Short-circuit logic is used, so g will not be evaluated if f returns
// false.
func (f DeciderFunc) And(g DeciderFunc) DeciderFunc {
	return func(x *Failure) bool {
		return f(x) && g(x)
	}
}

// Or composes two retry deciders into a new decider which returns
// true if either of the two sub-deciders returns true, but false if
// they both return false.
//
// Short-circuit logic is used, so g will not be evaluated if f returns
// true.
func (f DeciderFunc) Or(g DeciderFunc) DeciderFunc {
	return func(x *Failure) bool {
		return f(x) || g(x)
	}
}

// Times constructs a retry decider which allows up to n consecutive
// reconnects, independent of the channel's budget.
func Times(n int) DeciderFunc {
	return func(x *Failure) bool {
		return x.Attempt < n
	}
}

// Kinds constructs a retry decider which returns true if the failure
// kind is one of kinds.
func Kinds(kinds ...message.ErrorKind) DeciderFunc {
	ks := make([]message.ErrorKind, len(kinds))
	copy(ks, kinds)
	return func(x *Failure) bool {
		for _, k := range ks {
			if x.Kind == k {
				return true
			}
		}
		return false
	}
}

func budget(x *Failure) bool {
	return x.Budget > 0
}

func idempotent(x *Failure) bool {
	return x.Idempotent()
}

func transientErr(x *Failure) bool {
	return transient.Categorize(x.Err) != transient.Not
}
