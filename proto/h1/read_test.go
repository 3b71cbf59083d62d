// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h1

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/proto/prototest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseParsing(t *testing.T) {
	testCases := []struct {
		name    string
		method  string
		raw     string
		status  int
		body    string
		cl      int64
		trailer string
	}{
		{
			name:   "content length",
			raw:    "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok",
			status: 200,
			body:   "ok",
			cl:     2,
		},
		{
			name:   "zero length",
			raw:    "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n",
			status: 200,
			cl:     0,
		},
		{
			name:    "chunked with trailer",
			raw:     "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3;ext=1\r\nfoo\r\n4\r\nbar!\r\n0\r\nX-Sum: 7\r\n\r\n",
			status:  200,
			body:    "foobar!",
			cl:      -1,
			trailer: "7",
		},
		{
			name:   "HEAD ignores length",
			method: "HEAD",
			raw:    "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n",
			status: 200,
			cl:     100,
		},
		{
			name:   "no content",
			raw:    "HTTP/1.1 204 No Content\r\n\r\n",
			status: 204,
			cl:     -1,
		},
		{
			name:   "not modified",
			raw:    "HTTP/1.1 304 Not Modified\r\nContent-Length: 12\r\n\r\n",
			status: 304,
			cl:     12,
		},
		{
			name:   "informational skipped",
			raw:    "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 201 Created\r\nContent-Length: 1\r\n\r\nx",
			status: 201,
			body:   "x",
			cl:     1,
		},
		{
			name:   "bare LF",
			raw:    "HTTP/1.0 200 OK\nContent-Length: 3\n\nabc",
			status: 200,
			body:   "abc",
			cl:     3,
		},
	}
	for _, testCase := range testCases {
		for _, size := range []int{1, 2, 7, 1 << 20} {
			t.Run(fmt.Sprintf("%s/pieces of %d", testCase.name, size), func(t *testing.T) {
				conn := &prototest.Conn{}
				h := New(conn)
				method := testCase.method
				if method == "" {
					method = "GET"
				}
				m := newMessage(t, method, "http://example.com/", nil)
				h.SetReply(m)
				feed(h, testCase.raw, size)
				require.Equal(t, []*message.Message{m}, conn.Completed)
				assert.Empty(t, conn.ConnErrors)
				assert.Equal(t, testCase.status, m.Sink.StatusCode)
				assert.Equal(t, testCase.body, string(m.Sink.Body()))
				assert.Equal(t, testCase.cl, m.Sink.ContentLength)
				if testCase.trailer != "" {
					assert.Equal(t, testCase.trailer, m.Sink.Trailer.Get("X-Sum"))
				}
				assert.Equal(t, 0, h.Pending())
			})
		}
	}
}

func TestPipelinedResponses(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\nA" +
		"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n1\r\nB\r\n0\r\n\r\n" +
		"HTTP/1.1 404 Not Found\r\nContent-Length: 1\r\n\r\nC"
	for _, size := range []int{1, 3, len(raw)} {
		t.Run(fmt.Sprintf("pieces of %d", size), func(t *testing.T) {
			conn := &prototest.Conn{}
			h := New(conn)
			msgs := []*message.Message{
				newMessage(t, "GET", "http://example.com/a", nil),
				newMessage(t, "GET", "http://example.com/b", nil),
				newMessage(t, "GET", "http://example.com/c", nil),
			}
			next := 1
			conn.OnComplete = func(_ *message.Message) {
				if next < len(msgs) {
					h.SetReply(msgs[next])
					next++
				} else {
					h.SetReply(nil)
				}
			}
			h.SetReply(msgs[0])
			feed(h, raw, size)
			require.Equal(t, msgs, conn.Completed)
			assert.Equal(t, "A", string(msgs[0].Sink.Body()))
			assert.Equal(t, "B", string(msgs[1].Sink.Body()))
			assert.Equal(t, "C", string(msgs[2].Sink.Body()))
			assert.Equal(t, 404, msgs[2].Sink.StatusCode)
		})
	}
}

func TestLeftoverBytesWaitForReply(t *testing.T) {
	conn := &prototest.Conn{}
	h := New(conn)
	a := newMessage(t, "GET", "http://example.com/", nil)
	b := newMessage(t, "GET", "http://example.com/", nil)
	h.SetReply(a)
	h.OnReadyRead([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	require.Equal(t, []*message.Message{a}, conn.Completed)
	assert.Greater(t, h.Pending(), 0)
	h.SetReply(b)
	assert.Equal(t, []*message.Message{a, b}, conn.Completed)
	assert.Equal(t, 0, h.Pending())
}

func TestCloseDelimitedBody(t *testing.T) {
	conn := &prototest.Conn{}
	h := New(conn)
	m := newMessage(t, "GET", "http://example.com/", nil)
	h.SetReply(m)
	h.OnReadyRead([]byte("HTTP/1.0 200 OK\r\n\r\nsome"))
	h.OnReadyRead([]byte(" data"))
	assert.Empty(t, conn.Completed)
	assert.True(t, h.EOF())
	assert.Equal(t, []*message.Message{m}, conn.Completed)
	assert.Equal(t, "some data", string(m.Sink.Body()))
	assert.Equal(t, int64(-1), m.Sink.ContentLength)
	assert.False(t, h.EOF())
}

func TestEOFBeforeEndOfBody(t *testing.T) {
	conn := &prototest.Conn{}
	h := New(conn)
	m := newMessage(t, "GET", "http://example.com/", nil)
	h.SetReply(m)
	h.OnReadyRead([]byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc"))
	assert.False(t, h.EOF())
	assert.Empty(t, conn.Completed)
}

func TestRedirect(t *testing.T) {
	conn := &prototest.Conn{}
	h := New(conn)
	m := newMessage(t, "GET", "http://example.com/a/b", nil)
	h.SetReply(m)
	h.OnReadyRead([]byte("HTTP/1.1 307 Temporary Redirect\r\nLocation: ../c?d=1\r\nContent-Length: 0\r\n\r\n"))
	require.Len(t, conn.Completed, 1)
	require.NotNil(t, m.Sink.RedirectURL)
	assert.Equal(t, "http://example.com/c?d=1", m.Sink.RedirectURL.String())
}

func TestUpgradeAccepted(t *testing.T) {
	conn := &prototest.Conn{}
	h := New(conn)
	m := newMessage(t, "GET", "http://example.com/", nil)
	h.SetReply(m)
	h.OnReadyRead([]byte("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: h2c\r\n\r\n\x00\x00\x00\x04"))
	assert.Equal(t, []*message.Message{m}, conn.Upgraded)
	assert.Empty(t, conn.Completed)
	h.OnReadyRead([]byte("\x00\x00\x00\x00\x00"))
	assert.Equal(t, 9, h.Pending())
	assert.Equal(t, []byte("\x00\x00\x00\x04\x00\x00\x00\x00\x00"), h.Detach())
	assert.Equal(t, 0, h.Pending())
}

func TestMalformedResponses(t *testing.T) {
	raws := []string{
		"HTTP/2.0 200 OK\r\n\r\n",
		"FOO\r\n\r\n",
		"HTTP/1.1 2000 OK\r\n\r\n",
		"HTTP/1.1 200 OK\r\nBad Header: x\r\n\r\n",
		"HTTP/1.1 200 OK\r\nNoColon\r\n\r\n",
		"HTTP/1.1 200 OK\r\n folded\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: -1\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n",
		"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n",
		"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n1\r\nabc\r\n",
		"HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n",
		"HTTP/1.1 200 OK\r\n" + strings.Repeat("x", maxLine+1),
	}
	for i, raw := range raws {
		t.Run(fmt.Sprintf("raws[%d]", i), func(t *testing.T) {
			conn := &prototest.Conn{}
			h := New(conn)
			m := newMessage(t, "GET", "http://example.com/", nil)
			h.SetReply(m)
			h.OnReadyRead([]byte(raw))
			require.Len(t, conn.ConnErrors, 1)
			assert.Equal(t, message.ProtocolError, conn.ConnErrors[0].Kind)
			assert.Empty(t, conn.Completed)
		})
	}
}

func TestCancel(t *testing.T) {
	conn := &prototest.Conn{}
	h := New(conn)
	m := newMessage(t, "GET", "http://example.com/", nil)
	other := newMessage(t, "GET", "http://example.com/", nil)
	assert.False(t, h.Cancel(m))
	h.SetReply(m)
	assert.False(t, h.Cancel(other))
	assert.True(t, h.Cancel(m))
	h.OnReadyRead([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	assert.Empty(t, conn.Completed)
	h.Close()
	assert.Equal(t, 0, h.Pending())
}

func feed(h *Handler, raw string, size int) {
	for len(raw) > 0 {
		n := size
		if n > len(raw) {
			n = len(raw)
		}
		h.OnReadyRead([]byte(raw[:n]))
		raw = raw[n:]
	}
}
