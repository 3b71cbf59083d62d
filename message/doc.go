// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package message contains the core types Request (describes an HTTP
request to send on a connection channel), Sink (accumulates the HTTP
response) and Message (pairs the two as one unit of work). These types
are what flows between a connection pool and its channels.

Create a message to hand to a pool:

	req, err := message.NewRequest("GET", "http://example.com/", nil)
	...
	m := message.New(req)

A Message is always held in exactly one Location: the pool's outer
queue, a channel's local queue, a channel's in-flight slot, a channel's
pipeline, the stream set of an HTTP/2 connection, or Done. Channels and
pools move messages between locations with SetLocation; nothing else
should.

Every message receives exactly one terminal notification, either
Finish (a complete response was received into the Sink) or Fail (the
message ended with an *Error). After the terminal notification the
Done channel is closed and the message never changes again, so it is
safe to read the Sink and Err from any goroutine once Done is closed.

The error taxonomy is expressed by ErrorKind. Every failure reported
to a message is an *Error carrying its kind, a human-readable
description, and the underlying cause if there is one.
*/
package message
