// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import (
	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/proto"
)

// A Pool owns a set of channels and the messages waiting for them. A
// channel holds a non-owning reference to its pool and notifies it of
// everything the pool needs to schedule work.
//
// Notifications are delivered on the channel's event loop. A pool may
// call back into the notifying channel from a notification.
type Pool interface {
	// MessageFinished reports that m received a complete response. The
	// message was finished before the call.
	MessageFinished(c *Channel, m *message.Message)

	// MessageFailed reports that m failed with err. The message was
	// failed before the call.
	MessageFailed(c *Channel, m *message.Message, err *message.Error)

	// Requeue hands back messages the channel will not send, in order.
	// They are still pending and should be sent again, on this channel
	// or another one.
	Requeue(c *Channel, ms []*message.Message)

	// ChannelIdle reports that the channel has nothing queued or in
	// flight and can take more work.
	ChannelIdle(c *Channel)

	// AuthenticationRequired reports an authentication challenge from
	// the server or, if ch.Proxy is true, from the proxy. Parameter m is
	// the message which was challenged, and may be nil for a proxy
	// challenge on connect. The pool returns true after supplying new
	// credentials, in which case the channel resends.
	AuthenticationRequired(c *Channel, m *message.Message, ch *Challenge) bool

	// TLSErrors reports server certificate verification errors. The
	// pool returns true to continue the handshake regardless.
	TLSErrors(c *Channel, errs []error) bool

	// ProtocolNegotiated reports the protocol the channel settled on.
	// Parameter fellBack is true if HTTP/2 was offered through ALPN but
	// the server did not pick a protocol, in which case the pool should
	// stop offering HTTP/2.
	ProtocolNegotiated(c *Channel, p proto.Protocol, fellBack bool)
}
