// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

// An Event identifies the event type when installing or running a
// Handler. Install event handlers in a Channel to observe or extend it
// with custom functionality.
//
// Every event fires on the channel's event loop, so handlers must not
// block.
type Event int

const (
	// BeforeConnect identifies the event that occurs before the channel
	// asks a fresh transport to connect.
	//
	// When Channel fires BeforeConnect, the message is nil.
	BeforeConnect Event = iota
	// AfterConnect identifies the event that occurs once the transport
	// is usable: after the TCP connection is established for plaintext
	// channels, or after the TLS handshake completed for encrypted ones.
	//
	// When Channel fires AfterConnect, the message is nil and the
	// channel's protocol has been decided.
	AfterConnect
	// BeforeSend identifies the event that occurs before a message is
	// handed to the protocol handler for sending, including when it
	// is pipelined or opened as an HTTP/2 stream.
	//
	// BeforeSend handlers may modify the message request's headers.
	BeforeSend
	// AfterResponse identifies the event that occurs after a complete
	// response has been received into the message sink, before the
	// message is finished.
	AfterResponse
	// BeforeResend identifies the event that occurs after the channel
	// decided to transparently resend a message, before the message is
	// handed back to the pool.
	BeforeResend
	// AfterProtocolSwitch identifies the event that occurs after the
	// HTTP/2 protocol handler replaced the HTTP/1.1 one following an
	// acknowledged cleartext upgrade.
	//
	// When Channel fires AfterProtocolSwitch, the message is the one
	// whose request triggered the upgrade.
	AfterProtocolSwitch
	// AfterFailure identifies the event that occurs after a message
	// failed with an error which was not absorbed by the reconnect
	// policy. The message error is set.
	AfterFailure
	// AfterClose identifies the event that occurs after the channel
	// closed or discarded its transport.
	//
	// When Channel fires AfterClose, the message is nil.
	AfterClose
	// eventSentinel provides the total number of events typed as an
	// Event.
	eventSentinel

	// numEvents provides the total number of events types as an int.
	numEvents = int(eventSentinel)
)

var eventNames = []string{
	"BeforeConnect",
	"AfterConnect",
	"BeforeSend",
	"AfterResponse",
	"BeforeResend",
	"AfterProtocolSwitch",
	"AfterFailure",
	"AfterClose",
}

// Events returns a slice containing all events which a Channel can
// fire, roughly in the order in which they occur.
func Events() []Event {
	return []Event{
		BeforeConnect,
		AfterConnect,
		BeforeSend,
		AfterResponse,
		BeforeResend,
		AfterProtocolSwitch,
		AfterFailure,
		AfterClose,
	}
}

// Name returns the name of the event.
func (evt Event) Name() string {
	return eventNames[int(evt)]
}

// String returns the name of the event.
func (evt Event) String() string {
	return evt.Name()
}
