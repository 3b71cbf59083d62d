// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package proto defines the boundary between a connection channel and
// the protocol handlers which put HTTP messages on the wire.
//
// A channel owns exactly one Handler at a time. It hands the handler
// messages to send and raw bytes read from the transport, and the
// handler reports back through the Conn the channel gives it. Handlers
// never touch the transport directly and never decide what happens to
// a failed message: they only report.
package proto

import (
	"errors"

	"github.com/gogama/httpchan/message"
	"go.uber.org/zap"
)

// A Protocol identifies a wire protocol.
type Protocol int

const (
	// HTTP1 is HTTP/1.1.
	HTTP1 Protocol = iota
	// HTTP2 is HTTP/2.
	HTTP2
)

// ALPN protocol identifiers.
const (
	ALPNHTTP1 = "http/1.1"
	ALPNHTTP2 = "h2"
)

func (p Protocol) String() string {
	if p == HTTP2 {
		return "HTTP/2"
	}
	return "HTTP/1.1"
}

// A Handler serializes requests and parses responses for one protocol
// over one transport.
//
// Handlers are driven from the channel's event loop and are not safe
// for concurrent use.
type Handler interface {
	// Protocol returns the protocol the handler speaks.
	Protocol() Protocol

	// SendRequest writes m, or as much of it as possible. It returns
	// true once the request has been completely handed to the
	// transport (HTTP/1.1) or to the stream scheduler (HTTP/2). A
	// handler which returned false is called again with the same
	// message once the transport has drained.
	SendRequest(m *message.Message) (done bool, err error)

	// OnReadyRead consumes bytes read from the transport.
	OnReadyRead(data []byte)

	// SetReply tells an HTTP/1.1 handler which message the next
	// response belongs to. Nil means no response is expected.
	SetReply(m *message.Message)

	// EOF tells the handler the peer closed the connection. It returns
	// true if that close completed the current response, as it does
	// for bodies delimited by connection close.
	EOF() bool

	// Pending returns the number of received bytes not consumed yet.
	Pending() int

	// Detach hands back the received bytes not consumed yet, for use
	// by the handler taking over the connection.
	Detach() []byte

	// Cancel forgets m, if the handler holds it. It reports whether
	// bytes of m were already written but its framing is incomplete,
	// in which case the connection cannot be reused.
	Cancel(m *message.Message) (dirty bool)

	// Close releases handler resources.
	Close()
}

// A Conn is the channel surface a Handler reports to.
type Conn interface {
	// WriteTransport queues bytes for writing.
	WriteTransport(p []byte)

	// ResponseComplete reports that m's sink holds a complete response.
	ResponseComplete(m *message.Message)

	// UpgradeAccepted reports an HTTP/1.1 101 response switching to
	// h2c for m. The handler stops parsing at that point.
	UpgradeAccepted(m *message.Message)

	// ResponseFailed reports an error confined to m.
	ResponseFailed(m *message.Message, err *message.Error)

	// StreamRefused reports that the server refused m before
	// processing it, so m can be resent anywhere without consuming
	// reconnect budget.
	StreamRefused(m *message.Message)

	// ConnectionError reports an error which makes the whole
	// connection unusable.
	ConnectionError(err *message.Error)

	// Logger returns the channel logger.
	Logger() *zap.Logger
}

// ErrStreamRefused is returned by Handler.SendRequest when the handler
// can no longer open streams, for example after the server sent
// GOAWAY. The message was never sent and may be resent elsewhere.
var ErrStreamRefused = errors.New("httpchan/proto: stream refused")
