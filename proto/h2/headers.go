// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h2

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gogama/httpchan/message"
	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// connectionHeaders are HTTP/1.1 connection-specific fields which must
// not appear in an HTTP/2 request.
var connectionHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Proxy-Connection":  true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Http2-Settings":    true,
	"Host":              true,
	"Content-Length":    true,
}

func validate(r *message.Request) *message.Error {
	for name, values := range r.Header {
		if !httpguts.ValidHeaderFieldName(name) {
			return message.NewError(message.ProtocolError, fmt.Sprintf("invalid header field name %q", name), nil)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return message.NewError(message.ProtocolError, fmt.Sprintf("invalid header field value for %q", name), nil)
			}
		}
	}
	return nil
}

func (h *Handler) encodeHeaders(r *message.Request) []byte {
	h.hbuf.Reset()
	write := func(name, value string) {
		_ = h.enc.WriteField(hpack.HeaderField{Name: name, Value: value})
	}
	scheme := h.scheme
	if r.URL != nil && r.URL.Scheme != "" {
		scheme = r.URL.Scheme
	}
	write(":method", r.MethodName())
	write(":scheme", scheme)
	write(":authority", r.Authority())
	write(":path", r.Target())
	for name, values := range r.Header {
		if connectionHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		lower := strings.ToLower(name)
		for _, v := range values {
			if lower == "te" && v != "trailers" {
				continue
			}
			write(lower, v)
		}
	}
	if r.HasBody() && r.ContentLength > 0 {
		write("content-length", strconv.FormatInt(r.ContentLength, 10))
	}
	return append([]byte(nil), h.hbuf.Bytes()...)
}

// endBlock decodes a complete header block and applies it to the
// stream it belongs to.
func (h *Handler) endBlock() {
	id, endStream, block := h.blockStream, h.blockEndStream, h.block
	h.block, h.blockStream, h.blockEndStream = nil, 0, false

	fields, err := h.dec.DecodeFull(block)
	if err != nil {
		h.connError(http2.ErrCodeCompression, message.ProtocolError, "header block decoding failed", err)
		return
	}
	s, ok := h.streams[id]
	if !ok {
		return
	}
	sink := s.m.Sink

	if s.gotHeaders {
		if !endStream {
			h.resetStream(s, streamError(id, "trailers without END_STREAM"))
			return
		}
		sink.Trailer = make(http.Header)
		for _, f := range fields {
			if !f.IsPseudo() {
				sink.Trailer.Add(http.CanonicalHeaderKey(f.Name), f.Value)
			}
		}
		h.finish(s)
		return
	}

	status := -1
	header := make(http.Header)
	for _, f := range fields {
		if f.Name == ":status" {
			status, err = strconv.Atoi(f.Value)
			if err != nil || len(f.Value) != 3 {
				status = -1
			}
			continue
		}
		if f.IsPseudo() {
			continue
		}
		header.Add(http.CanonicalHeaderKey(f.Name), f.Value)
	}
	if status < 100 {
		h.resetStream(s, streamError(id, "missing or malformed :status"))
		return
	}
	if status < 200 {
		if endStream {
			h.resetStream(s, streamError(id, "informational response ends stream"))
		}
		return
	}

	s.gotHeaders = true
	sink.StatusCode = status
	sink.ProtoMajor, sink.ProtoMinor = 2, 0
	sink.HTTP2 = true
	sink.Header = header
	sink.ContentLength = -1
	if v := header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			sink.ContentLength = n
		}
	}
	if sink.IsRedirect() {
		if loc := header.Get("Location"); loc != "" && s.m.Request.URL != nil {
			if u, err := s.m.Request.URL.Parse(loc); err == nil {
				sink.RedirectURL = u
			}
		}
	}
	if endStream {
		h.finish(s)
	}
}
