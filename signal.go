// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import "fmt"

// A SignalKind identifies the kind of a transport Signal.
type SignalKind int

const (
	// Connected signals that the transport established its connection.
	Connected SignalKind = iota
	// Disconnected signals that the connection closed, either because
	// the peer closed it or because the transport was closed.
	Disconnected
	// BytesWritten signals that N bytes were written to the network.
	BytesWritten
	// ReadyRead signals that N bytes can be taken with Transport.Read.
	ReadyRead
	// Error signals a transport failure. Err holds the cause.
	Error
	// HandshakeComplete signals that the TLS handshake completed.
	HandshakeComplete
	// HandshakeError signals that the TLS handshake failed. Err holds
	// the cause.
	HandshakeError
	// TLSErrors signals that the server certificate did not verify.
	// Errs holds the verification errors. The handshake is suspended
	// until the errors are ignored or the transport is aborted.
	TLSErrors
	// ProxyAuthRequired signals that the proxy demanded credentials.
	// Challenge holds the parsed Proxy-Authenticate challenge.
	ProxyAuthRequired
	// WriteTimeout signals that a write made no progress in time. The
	// channel raises it from its own timer.
	WriteTimeout
	signalSentinel
)

var signalNames = []string{
	"Connected",
	"Disconnected",
	"BytesWritten",
	"ReadyRead",
	"Error",
	"HandshakeComplete",
	"HandshakeError",
	"TLSErrors",
	"ProxyAuthRequired",
	"WriteTimeout",
}

func (k SignalKind) String() string {
	if k < 0 || k >= signalSentinel {
		return fmt.Sprintf("SignalKind(%d)", int(k))
	}
	return signalNames[k]
}

// A Signal is an input to the channel state machine. Transports emit
// signals from their own goroutines through the emit function given to
// the Dialer; the channel consumes them on its event loop.
type Signal struct {
	Kind      SignalKind
	N         int
	Err       error
	Errs      []error
	Challenge *Challenge

	// gen identifies the transport which emitted the signal. Zero
	// means the current transport.
	gen uint64
}

func (s Signal) String() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("%s(%v)", s.Kind, s.Err)
	case s.Kind == BytesWritten || s.Kind == ReadyRead:
		return fmt.Sprintf("%s(%d)", s.Kind, s.N)
	default:
		return s.Kind.String()
	}
}
