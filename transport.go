// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import "fmt"

// A TransportState describes the connection state of a Transport.
type TransportState int

const (
	// TransportUnconnected means the transport has no connection.
	TransportUnconnected TransportState = iota
	// TransportConnecting means the transport is establishing its
	// connection.
	TransportConnecting
	// TransportEstablished means the connection is usable.
	TransportEstablished
	// TransportClosing means the transport is flushing writes before
	// closing.
	TransportClosing
)

var transportStateNames = []string{
	"Unconnected",
	"Connecting",
	"Established",
	"Closing",
}

func (s TransportState) String() string {
	if s < 0 || int(s) >= len(transportStateNames) {
		return fmt.Sprintf("TransportState(%d)", int(s))
	}
	return transportStateNames[s]
}

// A Transport is the raw byte stream a Channel drives. A transport
// never blocks the caller: every method returns immediately and the
// outcome is reported later as a Signal.
//
// Implementations need only be safe for one caller at a time plus the
// goroutines emitting their signals.
type Transport interface {
	// Connect starts connecting to host and port.
	Connect(host string, port int)
	// Write queues p for writing. BytesWritten signals progress.
	Write(p []byte)
	// Read returns and removes all buffered received bytes.
	Read() []byte
	// Buffered returns the number of received bytes not yet Read.
	Buffered() int
	// Close flushes queued writes and then closes the connection.
	Close()
	// Abort closes the connection immediately, dropping queued writes.
	Abort()
	// State returns the current connection state.
	State() TransportState
}

// A TLSTransport is a Transport which encrypts the connection.
//
// After Connected, the channel calls StartHandshake. The transport
// then signals HandshakeComplete, HandshakeError, or TLSErrors. After
// TLSErrors the handshake waits until IgnoreTLSErrors or Abort.
type TLSTransport interface {
	Transport
	// StartHandshake starts the TLS handshake.
	StartHandshake()
	// IgnoreTLSErrors resumes a handshake suspended by TLSErrors.
	IgnoreTLSErrors()
	// NegotiatedProtocol returns the ALPN protocol, if any.
	NegotiatedProtocol() (proto string, ok bool)
}

// A Dialer creates a fresh, unconnected Transport which reports its
// signals through emit. A channel calls its dialer once per connection
// attempt and discards the previous transport wholesale.
type Dialer func(emit func(Signal)) Transport
