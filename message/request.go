// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package message

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	urlpkg "net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// A Request describes an HTTP request to be sent over a connection
// channel.
//
// Request fields are named and typed consistently with http.Request
// wherever possible. Unlike http.Request, a Request may be sent more
// than once: a channel may transparently resend it after a recoverable
// transport failure, after an authentication challenge, or when it
// follows a 307/308 redirect. Resending a request with a body requires
// GetBody.
type Request struct {
	// Method specifies the HTTP method (GET, POST, PUT, etc.).
	// An empty string means GET.
	Method string

	// URL specifies the URL to access. Only the request URI portion is
	// sent on the request line; the URL host is used for the Host
	// header unless Host is set.
	URL *urlpkg.URL

	// Header contains the request header fields to be sent.
	Header http.Header

	// Body is the request body, or nil for no body.
	Body io.Reader

	// GetBody returns a fresh reader positioned at the start of the
	// body. It is nil when the body is a one-shot stream, in which case
	// the request cannot be resent once any body bytes were written.
	GetBody func() (io.Reader, error)

	// ContentLength is the body length in bytes. Zero means no body, a
	// negative value means the length is unknown and the body will be
	// sent with chunked framing on HTTP/1.1.
	ContentLength int64

	// Close asks for the connection to be closed after the response to
	// this request has been read.
	Close bool

	// Host optionally overrides the Host header to send. If empty, the
	// value of URL.Host is sent.
	Host string

	idempotency int8
}

const (
	idempotencyByMethod int8 = iota
	idempotencyForced
	idempotencyDenied
)

// NewRequest returns a new Request given a method, URL, and optional
// body.
//
// Parameter body may be nil (empty body), or it may be a string,
// []byte, or io.Reader. A string or []byte body can be replayed, so the
// request is resendable. An io.Reader body is streamed with unknown
// length and cannot be replayed.
func NewRequest(method, url string, body interface{}) (*Request, error) {
	if method == "" {
		method = "GET"
	}
	if !validMethod(method) {
		return nil, fmt.Errorf("httpchan/message: invalid method %q", method)
	}
	u, err := urlpkg.Parse(url)
	if err != nil {
		return nil, err
	}
	u.Host = removeEmptyPort(u.Host)
	r := &Request{
		Method: method,
		URL:    u,
		Header: make(http.Header),
		Host:   u.Host,
	}
	if err = r.setBody(body); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Request) setBody(body interface{}) error {
	switch x := body.(type) {
	case nil:
		return nil
	case string:
		return r.setBody([]byte(x))
	case []byte:
		if len(x) == 0 {
			return nil
		}
		r.Body = bytes.NewReader(x)
		r.GetBody = func() (io.Reader, error) {
			return bytes.NewReader(x), nil
		}
		r.ContentLength = int64(len(x))
		return nil
	case io.Reader:
		r.Body = x
		r.ContentLength = -1
		return nil
	default:
		return errors.New(badBodyTypeMsg)
	}
}

// Idempotent reports whether the request may be transparently resent
// after the connection failed while it was in flight.
//
// Unless overridden with SetIdempotent, the methods GET, HEAD, OPTIONS,
// TRACE, PUT and DELETE are idempotent.
func (r *Request) Idempotent() bool {
	switch r.idempotency {
	case idempotencyForced:
		return true
	case idempotencyDenied:
		return false
	}
	switch r.method() {
	case "GET", "HEAD", "OPTIONS", "TRACE", "PUT", "DELETE":
		return true
	}
	return false
}

// SetIdempotent overrides the method-based idempotency classification.
func (r *Request) SetIdempotent(idempotent bool) {
	if idempotent {
		r.idempotency = idempotencyForced
	} else {
		r.idempotency = idempotencyDenied
	}
}

// HasBody reports whether the request carries a body.
func (r *Request) HasBody() bool {
	return r.Body != nil && r.ContentLength != 0
}

// ResetBody rewinds the body so the request can be sent again. It
// fails if the request has a body but no GetBody function.
func (r *Request) ResetBody() error {
	if r.Body == nil {
		return nil
	}
	if r.GetBody == nil {
		return errNotReplayable
	}
	b, err := r.GetBody()
	if err != nil {
		return err
	}
	r.Body = b
	return nil
}

// Target returns the request target sent on the request line.
func (r *Request) Target() string {
	if r.URL == nil {
		return "/"
	}
	t := r.URL.RequestURI()
	if t == "" {
		return "/"
	}
	return t
}

// Authority returns the value of the Host header (or the HTTP/2
// :authority pseudo-header).
func (r *Request) Authority() string {
	if r.Host != "" {
		return r.Host
	}
	if r.URL != nil {
		return r.URL.Host
	}
	return ""
}

// MethodName returns the request method, defaulting to GET.
func (r *Request) MethodName() string {
	return r.method()
}

func (r *Request) method() string {
	if r.Method == "" {
		return "GET"
	}
	return r.Method
}

// SetBasicAuth sets the request's Authorization header to use HTTP
// Basic Authentication with the provided username and password.
func (r *Request) SetBasicAuth(username, password string) {
	r.Header.Set("Authorization", "Basic "+basicAuth(username, password))
}

// SetProxyBasicAuth sets the request's Proxy-Authorization header to
// use HTTP Basic Authentication.
func (r *Request) SetProxyBasicAuth(username, password string) {
	r.Header.Set("Proxy-Authorization", "Basic "+basicAuth(username, password))
}

// basicAuth is lifted verbatim from net/http/client.go.
func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

func validMethod(method string) bool {
	return strings.IndexFunc(method, isNotToken) == -1
}

func isNotToken(r rune) bool {
	return !httpguts.IsTokenRune(r)
}

// hasPort is lifted verbatim from net/http/http.go
func hasPort(s string) bool { return strings.LastIndex(s, ":") > strings.LastIndex(s, "]") }

// removeEmptyPort is lifted verbatim from net/http/http.go
//
// removeEmptyPort strips the empty port in ":port" to ""
// as mandated by RFC 3986 Section 6.2.3.
func removeEmptyPort(host string) string {
	if hasPort(host) {
		return strings.TrimSuffix(host, ":")
	}
	return host
}

const badBodyTypeMsg = "httpchan/message: invalid type (for body use nil, " +
	"string, []byte or io.Reader)"

var errNotReplayable = errors.New("httpchan/message: body cannot be replayed")
