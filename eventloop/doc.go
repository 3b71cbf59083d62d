// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package eventloop provides the single logical thread of control that
// drives connection channels.
//
// A channel never locks its own state. Instead everything which touches
// it, transport signals, timers and pool calls alike, is posted to a
// Loop and runs there one function at a time. Two implementations are
// provided: Runner, which runs posted functions on a dedicated
// goroutine, and Manual, which runs them only when told to and keeps a
// virtual clock, making state machine tests deterministic.
package eventloop
