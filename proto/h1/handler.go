// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h1

import (
	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/proto"
	"go.uber.org/zap"
)

// A Handler is the HTTP/1.1 protocol handler for one connection.
type Handler struct {
	conn    proto.Conn
	w       writer
	r       reader
	parsing bool
}

// New returns a Handler reporting to conn.
func New(conn proto.Conn) *Handler {
	if conn == nil {
		panic("httpchan/proto/h1: nil conn")
	}
	return &Handler{conn: conn}
}

// Protocol returns proto.HTTP1.
func (h *Handler) Protocol() proto.Protocol {
	return proto.HTTP1
}

// SetReply sets the message the next response belongs to.
func (h *Handler) SetReply(m *message.Message) {
	h.r.reset()
	h.r.m = m
	if m != nil && len(h.r.buf) > 0 && !h.parsing {
		h.parse()
	}
}

// OnReadyRead appends data to the receive buffer and parses as much of
// it as possible.
func (h *Handler) OnReadyRead(data []byte) {
	h.r.buf = append(h.r.buf, data...)
	h.parse()
}

// EOF completes a response whose body is delimited by connection
// close.
func (h *Handler) EOF() bool {
	if h.r.m == nil || h.r.phase != phaseBody || h.r.mode != modeClose {
		return false
	}
	h.complete()
	return true
}

// Pending returns the number of buffered bytes not parsed yet.
func (h *Handler) Pending() int {
	return len(h.r.buf)
}

// Detach returns the unparsed bytes and forgets them.
func (h *Handler) Detach() []byte {
	b := h.r.buf
	h.r.buf = nil
	return b
}

// Cancel forgets m. Any message still being written or awaiting its
// response leaves the connection unusable.
func (h *Handler) Cancel(m *message.Message) bool {
	dirty := false
	if h.w.m == m {
		h.w.m = nil
		dirty = true
	}
	if h.r.m == m {
		h.r.reset()
		h.r.m = nil
		dirty = true
	}
	return dirty
}

// Close drops all buffered state.
func (h *Handler) Close() {
	h.w = writer{}
	h.r = reader{}
}

func (h *Handler) fail(desc string) {
	h.conn.Logger().Debug("malformed response", zap.String("reason", desc))
	h.r.m = nil
	h.r.buf = nil
	h.conn.ConnectionError(message.NewError(message.ProtocolError, desc, nil))
}
