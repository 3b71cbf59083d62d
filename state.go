// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

// A State is the state of a Channel.
type State int

const (
	// Idle means the channel has nothing in flight. Its transport may
	// still be connected and ready for the next request.
	Idle State = iota
	// Connecting means the transport is connecting, or performing its
	// TLS handshake.
	Connecting
	// Writing means a request is being serialized onto the transport.
	Writing
	// Waiting means a request was written and no response byte arrived
	// yet.
	Waiting
	// Reading means a response is being received.
	Reading
	// Closing means the transport is closing.
	Closing
)

var stateNames = []string{
	"Idle",
	"Connecting",
	"Writing",
	"Waiting",
	"Reading",
	"Closing",
}

func (s State) String() string {
	return stateNames[s]
}

// A ConnectionType selects the HTTP protocol versions a channel uses.
type ConnectionType int

const (
	// HTTP1 uses HTTP/1.1 only.
	HTTP1 ConnectionType = iota
	// HTTP2 negotiates HTTP/2: through ALPN on TLS channels, through
	// an h2c upgrade of the first suitable request on cleartext ones.
	// It falls back to HTTP/1.1 when the server declines.
	HTTP2
	// HTTP2Direct uses HTTP/2 with prior knowledge.
	HTTP2Direct
)

var connectionTypeNames = []string{
	"HTTP1",
	"HTTP2",
	"HTTP2Direct",
}

func (t ConnectionType) String() string {
	return connectionTypeNames[t]
}
