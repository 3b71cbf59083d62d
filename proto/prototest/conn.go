// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package prototest provides a recording proto.Conn for testing
// protocol handlers.
package prototest

import (
	"bytes"

	"github.com/gogama/httpchan/message"
	"go.uber.org/zap"
)

// A Conn records everything a protocol handler reports to it.
type Conn struct {
	// Written holds all bytes written to the transport.
	Written bytes.Buffer
	// Completed lists messages whose response completed, in order.
	Completed []*message.Message
	// Upgraded lists messages acknowledged by a protocol switch.
	Upgraded []*message.Message
	// Failed maps messages to the error they failed with.
	Failed map[*message.Message]*message.Error
	// Refused lists messages whose stream the server refused.
	Refused []*message.Message
	// ConnErrors lists connection-level errors.
	ConnErrors []*message.Error

	// OnComplete, if set, runs after a completion is recorded.
	OnComplete func(m *message.Message)
	// OnUpgrade, if set, runs after an upgrade is recorded.
	OnUpgrade func(m *message.Message)

	// Log is the logger returned by Logger. Nil means zap.NewNop().
	Log *zap.Logger
}

// WriteTransport records p.
func (c *Conn) WriteTransport(p []byte) {
	c.Written.Write(p)
}

// ResponseComplete records m.
func (c *Conn) ResponseComplete(m *message.Message) {
	c.Completed = append(c.Completed, m)
	if c.OnComplete != nil {
		c.OnComplete(m)
	}
}

// UpgradeAccepted records m.
func (c *Conn) UpgradeAccepted(m *message.Message) {
	c.Upgraded = append(c.Upgraded, m)
	if c.OnUpgrade != nil {
		c.OnUpgrade(m)
	}
}

// ResponseFailed records the failure of m.
func (c *Conn) ResponseFailed(m *message.Message, err *message.Error) {
	if c.Failed == nil {
		c.Failed = make(map[*message.Message]*message.Error)
	}
	c.Failed[m] = err
}

// StreamRefused records m.
func (c *Conn) StreamRefused(m *message.Message) {
	c.Refused = append(c.Refused, m)
}

// ConnectionError records err.
func (c *Conn) ConnectionError(err *message.Error) {
	c.ConnErrors = append(c.ConnErrors, err)
}

// Logger returns Log or a no-op logger.
func (c *Conn) Logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// TakeWritten returns and clears the written bytes.
func (c *Conn) TakeWritten() []byte {
	b := append([]byte(nil), c.Written.Bytes()...)
	c.Written.Reset()
	return b
}
