// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package message

import (
	"bytes"
	"net/http"
	urlpkg "net/url"

	"golang.org/x/net/http/httpguts"
)

// A Sink accumulates the HTTP response to a request.
//
// Protocol handlers fill the Sink incrementally while the response
// arrives. A Sink may be Reset if its request is resent, so readers
// should only look at it after the owning message is Done.
type Sink struct {
	// StatusCode is the response status code, e.g. 200.
	StatusCode int

	// ProtoMajor and ProtoMinor are the protocol version of the
	// response, e.g. 1 and 1, or 2 and 0.
	ProtoMajor int
	ProtoMinor int

	// Header holds the response header fields.
	Header http.Header

	// Trailer holds trailer fields received after the body.
	Trailer http.Header

	// ContentLength is the declared body length, or -1 if the response
	// did not declare one.
	ContentLength int64

	// RedirectURL is the resolved Location of a redirect response. It
	// is nil unless the status code is a redirect.
	RedirectURL *urlpkg.URL

	// Pipelined reports whether the request was sent pipelined behind
	// another request.
	Pipelined bool

	// HTTP2 reports whether the response was received over HTTP/2.
	HTTP2 bool

	// Resends counts how many times the request was transparently
	// resent before the final attempt.
	Resends int

	body bytes.Buffer
}

// Reset clears all response state ahead of a resend. The resend
// counter survives.
func (s *Sink) Reset() {
	resends := s.Resends
	*s = Sink{Resends: resends}
}

// WriteBody appends response body bytes.
func (s *Sink) WriteBody(p []byte) {
	s.body.Write(p)
}

// Body returns the response body received so far.
func (s *Sink) Body() []byte {
	return s.body.Bytes()
}

// BodyLen returns the number of body bytes received so far.
func (s *Sink) BodyLen() int {
	return s.body.Len()
}

// ConnectionClose reports whether the response asked for the
// connection to be closed after it.
func (s *Sink) ConnectionClose() bool {
	if s.ProtoMajor >= 2 {
		return false
	}
	vv := s.Header["Connection"]
	if httpguts.HeaderValuesContainsToken(vv, "close") {
		return true
	}
	if s.ProtoMajor == 1 && s.ProtoMinor == 0 {
		return !httpguts.HeaderValuesContainsToken(vv, "keep-alive")
	}
	return false
}

// Server returns the Server header value.
func (s *Sink) Server() string {
	return s.Header.Get("Server")
}

// IsRedirect reports whether the status code is one the channel treats
// as a redirect.
func (s *Sink) IsRedirect() bool {
	switch s.StatusCode {
	case 301, 302, 303, 305, 307, 308:
		return true
	}
	return false
}

// Chunked reports whether the response body uses chunked framing.
func (s *Sink) Chunked() bool {
	return httpguts.HeaderValuesContainsToken(s.Header["Transfer-Encoding"], "chunked")
}
