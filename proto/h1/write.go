// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h1

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/gogama/httpchan/message"
	"golang.org/x/net/http/httpguts"
)

// maxBodyWrite bounds how many body bytes one SendRequest call writes.
const maxBodyWrite = 64 << 10

const bodyChunk = 16 << 10

var headerExclude = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
}

type writer struct {
	m         *message.Message
	chunked   bool
	remaining int64
	scratch   []byte
}

// SendRequest writes the request line and header of m on the first
// call, followed by up to maxBodyWrite body bytes per call.
func (h *Handler) SendRequest(m *message.Message) (bool, error) {
	if h.w.m != m {
		if h.w.m != nil {
			panic("httpchan/proto/h1: request already being sent")
		}
		head, err := header(m.Request)
		if err != nil {
			return false, err
		}
		h.w = writer{
			m:         m,
			chunked:   m.Request.HasBody() && m.Request.ContentLength < 0,
			remaining: m.Request.ContentLength,
			scratch:   h.w.scratch,
		}
		h.conn.WriteTransport(head)
		if !m.Request.HasBody() {
			h.w.m = nil
			return true, nil
		}
	}
	done, err := h.writeBody()
	if done || err != nil {
		h.w.m = nil
	}
	return done, err
}

func (h *Handler) writeBody() (bool, error) {
	if h.w.scratch == nil {
		h.w.scratch = make([]byte, bodyChunk)
	}
	body := h.w.m.Request.Body
	written, empty := 0, 0
	for written < maxBodyWrite {
		p := h.w.scratch
		if !h.w.chunked && h.w.remaining < int64(len(p)) {
			p = p[:h.w.remaining]
		}
		n, err := body.Read(p)
		if n > 0 {
			h.writeChunk(p[:n])
			written += n
		}
		if !h.w.chunked && h.w.remaining == 0 {
			return true, nil
		}
		if err == io.EOF {
			if h.w.chunked {
				h.conn.WriteTransport([]byte("0\r\n\r\n"))
				return true, nil
			}
			return false, message.NewError(message.Unknown,
				fmt.Sprintf("request body ended %d bytes short of Content-Length", h.w.remaining), io.ErrUnexpectedEOF)
		}
		if err != nil {
			return false, message.NewError(message.Unknown, "reading request body", err)
		}
		if n == 0 {
			empty++
			if empty >= 100 {
				return false, message.NewError(message.Unknown, "reading request body", io.ErrNoProgress)
			}
		}
	}
	return false, nil
}

func (h *Handler) writeChunk(p []byte) {
	if !h.w.chunked {
		h.w.remaining -= int64(len(p))
		h.conn.WriteTransport(append([]byte(nil), p...))
		return
	}
	var b bytes.Buffer
	b.Grow(len(p) + 12)
	b.WriteString(strconv.FormatInt(int64(len(p)), 16))
	b.WriteString("\r\n")
	b.Write(p)
	b.WriteString("\r\n")
	h.conn.WriteTransport(b.Bytes())
}

// header serializes the request line and header fields of r.
func header(r *message.Request) ([]byte, error) {
	for name, values := range r.Header {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, message.NewError(message.ProtocolError, fmt.Sprintf("invalid header field name %q", name), nil)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, message.NewError(message.ProtocolError, fmt.Sprintf("invalid header field value for %q", name), nil)
			}
		}
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", r.MethodName(), r.Target())
	fmt.Fprintf(&b, "Host: %s\r\n", r.Authority())
	switch {
	case r.HasBody() && r.ContentLength > 0:
		fmt.Fprintf(&b, "Content-Length: %d\r\n", r.ContentLength)
	case r.HasBody():
		b.WriteString("Transfer-Encoding: chunked\r\n")
	case expectsBody(r.MethodName()):
		b.WriteString("Content-Length: 0\r\n")
	}
	if r.Close && !httpguts.HeaderValuesContainsToken(r.Header["Connection"], "close") {
		b.WriteString("Connection: close\r\n")
	}
	if err := r.Header.WriteSubset(&b, headerExclude); err != nil {
		return nil, err
	}
	b.WriteString("\r\n")
	return b.Bytes(), nil
}

func expectsBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// DecorateUpgrade adds the header fields asking the server to switch
// the connection to HTTP/2 over cleartext. Parameter settings is the
// base64url encoded SETTINGS payload.
func DecorateUpgrade(r *message.Request, settings string) {
	r.Header.Set("Connection", "Upgrade, HTTP2-Settings")
	r.Header.Set("Upgrade", "h2c")
	r.Header.Set("HTTP2-Settings", settings)
}

// StripUpgrade removes the header fields added by DecorateUpgrade.
func StripUpgrade(r *message.Request) {
	if r.Header.Get("Upgrade") != "h2c" {
		return
	}
	r.Header.Del("Connection")
	r.Header.Del("Upgrade")
	r.Header.Del("HTTP2-Settings")
}
