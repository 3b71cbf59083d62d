// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h1

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gogama/httpchan/message"
	"golang.org/x/net/http/httpguts"
)

// maxLine bounds the status line, each header line and each chunk
// size line.
const maxLine = 64 << 10

type phase int

const (
	phaseStatus phase = iota
	phaseHeaders
	phaseBody
	phaseChunkSize
	phaseChunkData
	phaseChunkEnd
	phaseTrailers
)

type mode int

const (
	modeNone mode = iota
	modeLength
	modeChunked
	modeClose
)

type reader struct {
	m         *message.Message
	buf       []byte
	phase     phase
	mode      mode
	remaining int64
}

func (r *reader) reset() {
	r.phase = phaseStatus
	r.mode = modeNone
	r.remaining = 0
}

// line returns the next CRLF or LF terminated line without its
// terminator, and whether a complete line was available.
func (r *reader) line() (string, bool, error) {
	i := bytes.IndexByte(r.buf, '\n')
	if i < 0 {
		if len(r.buf) > maxLine {
			return "", false, fmt.Errorf("line longer than %d bytes", maxLine)
		}
		return "", false, nil
	}
	l := r.buf[:i]
	r.buf = r.buf[i+1:]
	l = bytes.TrimSuffix(l, []byte("\r"))
	return string(l), true, nil
}

func (h *Handler) parse() {
	h.parsing = true
	defer func() { h.parsing = false }()
	for h.r.m != nil {
		progressed, err := h.step()
		if err != nil {
			h.fail(err.Error())
			return
		}
		if !progressed {
			break
		}
	}
	if len(h.r.buf) == 0 {
		h.r.buf = nil
	}
}

func (h *Handler) step() (bool, error) {
	r := &h.r
	switch r.phase {
	case phaseStatus:
		l, ok, err := r.line()
		if !ok || err != nil {
			return false, err
		}
		if l == "" {
			return true, nil
		}
		return true, h.status(l)
	case phaseHeaders, phaseTrailers:
		l, ok, err := r.line()
		if !ok || err != nil {
			return false, err
		}
		if l != "" {
			return true, h.field(l)
		}
		if r.phase == phaseTrailers {
			h.complete()
			return true, nil
		}
		return true, h.endHeaders()
	case phaseBody:
		if len(r.buf) == 0 {
			return false, nil
		}
		n := len(r.buf)
		if r.mode == modeLength && int64(n) > r.remaining {
			n = int(r.remaining)
		}
		r.m.Sink.WriteBody(r.buf[:n])
		r.buf = r.buf[n:]
		if r.mode == modeLength {
			r.remaining -= int64(n)
			if r.remaining == 0 {
				h.complete()
			}
		}
		return true, nil
	case phaseChunkSize:
		l, ok, err := r.line()
		if !ok || err != nil {
			return false, err
		}
		if i := strings.IndexByte(l, ';'); i >= 0 {
			l = l[:i]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(l), 16, 64)
		if err != nil || size < 0 {
			return false, fmt.Errorf("invalid chunk size %q", l)
		}
		if size == 0 {
			r.phase = phaseTrailers
		} else {
			r.remaining = size
			r.phase = phaseChunkData
		}
		return true, nil
	case phaseChunkData:
		if len(r.buf) == 0 {
			return false, nil
		}
		n := len(r.buf)
		if int64(n) > r.remaining {
			n = int(r.remaining)
		}
		r.m.Sink.WriteBody(r.buf[:n])
		r.buf = r.buf[n:]
		r.remaining -= int64(n)
		if r.remaining == 0 {
			r.phase = phaseChunkEnd
		}
		return true, nil
	case phaseChunkEnd:
		l, ok, err := r.line()
		if !ok || err != nil {
			return false, err
		}
		if l != "" {
			return false, fmt.Errorf("missing CRLF after chunk data")
		}
		r.phase = phaseChunkSize
		return true, nil
	}
	return false, nil
}

func (h *Handler) status(l string) error {
	parts := strings.SplitN(l, " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("malformed status line %q", l)
	}
	major, minor, ok := http.ParseHTTPVersion(parts[0])
	if !ok || major != 1 {
		return fmt.Errorf("unsupported protocol version %q", parts[0])
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 3 || code < 100 {
		return fmt.Errorf("malformed status code %q", parts[1])
	}
	s := h.r.m.Sink
	s.StatusCode = code
	s.ProtoMajor, s.ProtoMinor = major, minor
	s.Header = make(http.Header)
	s.ContentLength = -1
	h.r.phase = phaseHeaders
	return nil
}

func (h *Handler) field(l string) error {
	if l[0] == ' ' || l[0] == '\t' {
		return fmt.Errorf("obsolete line folding")
	}
	i := strings.IndexByte(l, ':')
	if i <= 0 {
		return fmt.Errorf("malformed header line %q", l)
	}
	name := l[:i]
	if !httpguts.ValidHeaderFieldName(name) {
		return fmt.Errorf("invalid header field name %q", name)
	}
	value := strings.TrimSpace(l[i+1:])
	s := h.r.m.Sink
	if h.r.phase == phaseTrailers {
		if s.Trailer == nil {
			s.Trailer = make(http.Header)
		}
		s.Trailer.Add(name, value)
	} else {
		s.Header.Add(name, value)
	}
	return nil
}

func (h *Handler) endHeaders() error {
	m := h.r.m
	s := m.Sink
	if s.StatusCode == http.StatusSwitchingProtocols {
		if !httpguts.HeaderValuesContainsToken(s.Header["Upgrade"], "h2c") {
			return fmt.Errorf("unexpected protocol switch to %q", s.Header.Get("Upgrade"))
		}
		h.r.m = nil
		h.r.reset()
		h.conn.UpgradeAccepted(m)
		return nil
	}
	if s.StatusCode < 200 {
		h.r.reset()
		s.Header = nil
		return nil
	}

	if s.IsRedirect() {
		if loc := s.Header.Get("Location"); loc != "" && m.Request.URL != nil {
			if u, err := m.Request.URL.Parse(loc); err == nil {
				s.RedirectURL = u
			}
		}
	}

	switch {
	case m.Request.MethodName() == "HEAD" || s.StatusCode == http.StatusNoContent || s.StatusCode == http.StatusNotModified:
		if cl, err := contentLength(s.Header); err == nil && cl >= 0 {
			s.ContentLength = cl
		}
		h.complete()
	case s.Chunked():
		h.r.mode = modeChunked
		h.r.phase = phaseChunkSize
	default:
		cl, err := contentLength(s.Header)
		if err != nil {
			return err
		}
		s.ContentLength = cl
		switch {
		case cl == 0:
			h.complete()
		case cl > 0:
			h.r.mode = modeLength
			h.r.remaining = cl
			h.r.phase = phaseBody
		default:
			h.r.mode = modeClose
			h.r.phase = phaseBody
		}
	}
	return nil
}

func contentLength(header http.Header) (int64, error) {
	values := header["Content-Length"]
	if len(values) == 0 {
		return -1, nil
	}
	v := strings.TrimSpace(values[0])
	for _, other := range values[1:] {
		if strings.TrimSpace(other) != v {
			return 0, fmt.Errorf("conflicting Content-Length values")
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid Content-Length %q", v)
	}
	return n, nil
}

func (h *Handler) complete() {
	m := h.r.m
	h.r.m = nil
	h.r.reset()
	h.conn.ResponseComplete(m)
}
