// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/gogama/httpchan/message"
)

// A Category is the transience category of a particular error, as
// reported by function Categorize().
//
// The category Not means the error is not transient from the
// perspective of the connection, or in other words that a reconnect
// after encountering this error is very unlikely to succeed.
//
// All other categories indicate the error is transient, in other words
// that a fresh connection has some prospect of success.
type Category int

const (
	// Not indicates any non-transient error.
	Not Category = iota
	// Timeout indicates a client-side timeout.
	//
	// Function Categorize() will return Timeout if the error or any of
	// its wrapped causes has a Timeout() function that reports true.
	Timeout
	// ConnRefused indicates the remote host refused the connection, and
	// corresponds to the POSIX error code ECONNREFUSED.
	//
	// Connection refusal is classified as transient because it happens
	// while the service on the remote host is starting or restarting.
	ConnRefused
	// ConnReset indicates the remote host returned an RST packet on a
	// previously active TCP connection, and corresponds to the POSIX
	// error code ECONNRESET.
	ConnReset
	// Closed indicates the remote host closed the connection in an
	// orderly way, either observed as end of stream (io.EOF) on read or
	// as a broken pipe (EPIPE) on write. Keep-alive connections closed
	// by the server while idle produce this category.
	Closed
)

var categoryNames = []string{"Not", "Timeout", "ConnRefused", "ConnReset", "Closed"}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "Category(?)"
	}
	return categoryNames[c]
}

// Categorize returns the transience category of the given error. All
// non-nil transient errors result in a transience category other than
// Not. A nil error, and an error that is not transient, both produce
// the return value Not.
//
// In assessing transience, Categorize looks at wrapped cause errors
// contained within err, not just err itself. However, Categorize never
// checks if an error has a Temporary() function that returns true, as
// the semantics of Temporary() aren't entirely clear.
func Categorize(err error) Category {
	if err == nil {
		return Not
	}

	var hasTimeout hasTimeout
	if errors.As(err, &hasTimeout) && hasTimeout.Timeout() {
		return Timeout
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET:
			return ConnReset
		case syscall.ECONNREFUSED:
			return ConnRefused
		case syscall.EPIPE:
			return Closed
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return Closed
	}

	return Not
}

// Kind maps a Go transport error onto the channel error taxonomy. An
// error which already is, or wraps, a *message.Error keeps its kind.
// Errors not recognized map to message.Unknown.
func Kind(err error) message.ErrorKind {
	if err == nil {
		return message.Unknown
	}

	var me *message.Error
	if errors.As(err, &me) {
		return me.Kind
	}

	if isTLS(err) {
		return message.TLSHandshakeFailed
	}

	switch Categorize(err) {
	case Timeout:
		return message.Timeout
	case ConnRefused:
		return message.ConnectionRefused
	case ConnReset, Closed:
		return message.RemoteClosed
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return message.HostUnreachable
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EHOSTUNREACH || errno == syscall.ENETUNREACH) {
		return message.HostUnreachable
	}

	return message.Unknown
}

// Wrap converts err into a *message.Error whose kind is Kind(err). If
// err already is a *message.Error it is returned unchanged.
func Wrap(err error, description string) *message.Error {
	var me *message.Error
	if errors.As(err, &me) {
		return me
	}
	return message.NewError(Kind(err), description, err)
}

func isTLS(err error) bool {
	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	var verifyErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	return errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid)
}

type hasTimeout interface {
	Timeout() bool
}
