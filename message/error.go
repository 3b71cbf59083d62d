// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package message

import (
	"errors"
	"fmt"
)

// An ErrorKind identifies the category of a failure reported to a
// message.
type ErrorKind int

const (
	// Unknown indicates a failure which fits no other category.
	Unknown ErrorKind = iota
	// HostUnreachable indicates the host could not be resolved or
	// reached.
	HostUnreachable
	// ConnectionRefused indicates the remote host refused the
	// connection.
	ConnectionRefused
	// RemoteClosed indicates the remote host closed the connection
	// before the complete response was received.
	RemoteClosed
	// Timeout indicates a connect or write timeout.
	Timeout
	// TLSHandshakeFailed indicates the TLS handshake failed, including
	// certificate verification failures.
	TLSHandshakeFailed
	// ProxyAuthRequired indicates the proxy demanded credentials which
	// could not be supplied.
	ProxyAuthRequired
	// AuthenticationRequired indicates the origin server demanded
	// credentials which could not be supplied.
	AuthenticationRequired
	// ProtocolError indicates malformed response framing.
	ProtocolError
	// ContentResendFailed indicates the request had to be resent but
	// its body could not be replayed.
	ContentResendFailed
	// Cancelled indicates the message was aborted by its caller.
	Cancelled

	kindSentinel
)

var kindNames = []string{
	"unknown error",
	"host unreachable",
	"connection refused",
	"remote closed",
	"timeout",
	"TLS handshake failed",
	"proxy authentication required",
	"authentication required",
	"protocol error",
	"content resend failed",
	"cancelled",
}

// String returns a short human-readable name of the kind.
func (k ErrorKind) String() string {
	if k < 0 || k >= kindSentinel {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return kindNames[k]
}

// An Error is the terminal failure of a message.
type Error struct {
	// Kind is the failure category.
	Kind ErrorKind
	// Description is a human-readable explanation. It may be empty.
	Description string
	// Err is the underlying cause, if any.
	Err error
}

// NewError constructs an *Error.
func NewError(kind ErrorKind, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, Err: cause}
}

func (e *Error) Error() string {
	s := "httpchan: " + e.Kind.String()
	if e.Description != "" {
		s += ": " + e.Description
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the error is a timeout, so that *Error
// satisfies the conventional net.Error-style interface.
func (e *Error) Timeout() bool {
	return e.Kind == Timeout
}

// Is reports whether target is an *Error of the same kind with no
// description or cause, which lets callers write
// errors.Is(err, &message.Error{Kind: message.RemoteClosed}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Description == "" && t.Err == nil
}

// KindOf returns the ErrorKind of err if err is, or wraps, an *Error.
// Otherwise it returns Unknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
