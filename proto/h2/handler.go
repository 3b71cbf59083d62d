// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h2

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/proto"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// Options configure a new Handler.
type Options struct {
	// Scheme is the :scheme pseudo-header sent with every request.
	// Empty means "https".
	Scheme string

	// Upgraded is the message whose HTTP/1.1 request triggered an
	// acknowledged h2c upgrade. Its response arrives on stream 1.
	Upgraded *message.Message
}

// A Handler is the HTTP/2 protocol handler for one connection.
type Handler struct {
	conn   proto.Conn
	logger *zap.Logger
	scheme string

	fr  *http2.Framer
	out bytes.Buffer
	in  bytes.Buffer

	enc  *hpack.Encoder
	hbuf bytes.Buffer
	dec  *hpack.Decoder

	// Header block being assembled from HEADERS and CONTINUATION.
	block          []byte
	blockStream    uint32
	blockEndStream bool

	streams map[uint32]*stream
	queue   []*message.Message
	nextID  uint32

	maxConcurrent     uint32
	peerInitialWindow int64
	peerMaxFrame      uint32
	connSendWindow    int64

	goingAway bool
	closed    bool
}

type stream struct {
	id         uint32
	m          *message.Message
	sendWindow int64
	pending    []byte
	bodyEOF    bool
	sentEnd    bool
	gotHeaders bool
}

// New returns a Handler reporting to conn and writes the client
// connection preface.
func New(conn proto.Conn, opts Options) *Handler {
	if conn == nil {
		panic("httpchan/proto/h2: nil conn")
	}
	h := &Handler{
		conn:              conn,
		logger:            conn.Logger(),
		scheme:            opts.Scheme,
		streams:           make(map[uint32]*stream),
		nextID:            1,
		maxConcurrent:     defaultMaxConcurrent,
		peerInitialWindow: defaultInitialWindow,
		peerMaxFrame:      defaultMaxFrameSize,
		connSendWindow:    defaultInitialWindow,
	}
	if h.scheme == "" {
		h.scheme = "https"
	}
	h.fr = http2.NewFramer(&h.out, &h.in)
	h.enc = hpack.NewEncoder(&h.hbuf)
	h.dec = hpack.NewDecoder(4096, nil)

	h.out.WriteString(http2.ClientPreface)
	_ = h.fr.WriteSettings(clientSettings...)
	_ = h.fr.WriteWindowUpdate(0, transportConnWindow-defaultInitialWindow)

	if m := opts.Upgraded; m != nil {
		h.streams[1] = &stream{id: 1, m: m, sentEnd: true}
		h.nextID = 3
	}
	h.flush()
	return h
}

// Protocol returns proto.HTTP2.
func (h *Handler) Protocol() proto.Protocol {
	return proto.HTTP2
}

// SendRequest queues m for a new stream and opens as many queued
// streams as the server allows.
func (h *Handler) SendRequest(m *message.Message) (bool, error) {
	if h.goingAway || h.closed || h.nextID > maxStreamID {
		return false, proto.ErrStreamRefused
	}
	if err := validate(m.Request); err != nil {
		return false, err
	}
	h.queue = append(h.queue, m)
	h.schedule()
	h.flush()
	return true, nil
}

// SetReply does nothing: HTTP/2 responses are matched by stream.
func (h *Handler) SetReply(_ *message.Message) {}

// EOF returns false. An HTTP/2 response is never delimited by
// connection close.
func (h *Handler) EOF() bool {
	return false
}

// Pending returns the number of buffered bytes not yet framed.
func (h *Handler) Pending() int {
	return h.in.Len()
}

// Detach returns the bytes not yet framed.
func (h *Handler) Detach() []byte {
	b := append([]byte(nil), h.in.Bytes()...)
	h.in.Reset()
	return b
}

// Cancel resets m's stream, or drops it from the queue. An HTTP/2
// connection survives a cancelled stream.
func (h *Handler) Cancel(m *message.Message) bool {
	for i, q := range h.queue {
		if q == m {
			h.queue = append(h.queue[:i], h.queue[i+1:]...)
			return false
		}
	}
	for id, s := range h.streams {
		if s.m == m {
			delete(h.streams, id)
			if !h.closed {
				_ = h.fr.WriteRSTStream(id, http2.ErrCodeCancel)
				h.schedule()
				h.flush()
			}
			return false
		}
	}
	return false
}

// Close stops the handler. Nothing is written afterward.
func (h *Handler) Close() {
	h.closed = true
	h.streams = map[uint32]*stream{}
	h.queue = nil
	h.out.Reset()
	h.in.Reset()
}

// Active returns the number of open streams plus queued requests.
func (h *Handler) Active() int {
	return len(h.streams) + len(h.queue)
}

func (h *Handler) flush() {
	if h.out.Len() == 0 || h.closed {
		h.out.Reset()
		return
	}
	b := append([]byte(nil), h.out.Bytes()...)
	h.out.Reset()
	h.conn.WriteTransport(b)
}

func (h *Handler) schedule() {
	for len(h.queue) > 0 && !h.goingAway && !h.closed && uint32(len(h.streams)) < h.maxConcurrent {
		m := h.queue[0]
		h.queue = h.queue[1:]
		h.open(m)
	}
}

func (h *Handler) open(m *message.Message) {
	id := h.nextID
	h.nextID += 2
	s := &stream{id: id, m: m, sendWindow: h.peerInitialWindow}
	h.streams[id] = s

	endStream := !m.Request.HasBody()
	block := h.encodeHeaders(m.Request)
	first := true
	for first || len(block) > 0 {
		chunk := block
		if len(chunk) > int(h.peerMaxFrame) {
			chunk = chunk[:h.peerMaxFrame]
		}
		block = block[len(chunk):]
		endHeaders := len(block) == 0
		if first {
			_ = h.fr.WriteHeaders(http2.HeadersFrameParam{
				StreamID:      id,
				BlockFragment: chunk,
				EndStream:     endStream,
				EndHeaders:    endHeaders,
			})
			first = false
		} else {
			_ = h.fr.WriteContinuation(id, endHeaders, chunk)
		}
	}
	h.logger.Debug("opened stream", zap.Uint32("stream", id), zap.Uint64("message", m.ID()))
	if endStream {
		s.sentEnd = true
		return
	}
	h.writeData(s)
}

func (h *Handler) writeData(s *stream) {
	empty := 0
	for !s.sentEnd {
		if len(s.pending) == 0 && !s.bodyEOF {
			buf := make([]byte, h.peerMaxFrame)
			n, err := s.m.Request.Body.Read(buf)
			s.pending = buf[:n]
			if err != nil {
				if err != io.EOF {
					h.failStream(s, message.NewError(message.Unknown, "reading request body", err))
					return
				}
				s.bodyEOF = true
			}
			if n == 0 && !s.bodyEOF {
				if empty++; empty >= 100 {
					h.failStream(s, message.NewError(message.Unknown, "request body makes no progress", nil))
					return
				}
				continue
			}
		}
		n := int64(len(s.pending))
		if n > h.connSendWindow {
			n = h.connSendWindow
		}
		if n > s.sendWindow {
			n = s.sendWindow
		}
		if n == 0 && len(s.pending) > 0 {
			return
		}
		end := s.bodyEOF && n == int64(len(s.pending))
		_ = h.fr.WriteData(s.id, end, s.pending[:n])
		h.connSendWindow -= n
		s.sendWindow -= n
		s.pending = s.pending[n:]
		if end {
			s.sentEnd = true
		}
	}
}

func (h *Handler) writeAll() {
	ids := make([]uint32, 0, len(h.streams))
	for id, s := range h.streams {
		if !s.sentEnd {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	for _, id := range ids {
		if s, ok := h.streams[id]; ok {
			h.writeData(s)
		}
	}
}

func sortIDs(ids []uint32) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func (h *Handler) failStream(s *stream, err *message.Error) {
	delete(h.streams, s.id)
	_ = h.fr.WriteRSTStream(s.id, http2.ErrCodeCancel)
	h.conn.ResponseFailed(s.m, err)
}

func (h *Handler) connError(code http2.ErrCode, kind message.ErrorKind, desc string, err error) {
	if h.closed {
		return
	}
	h.logger.Debug("connection error", zap.Stringer("code", code), zap.String("reason", desc), zap.Error(err))
	_ = h.fr.WriteGoAway(0, code, nil)
	h.flush()
	h.closed = true
	h.conn.ConnectionError(message.NewError(kind, desc, err))
}

func (h *Handler) drained() bool {
	return h.goingAway && len(h.streams) == 0 && len(h.queue) == 0
}

func (h *Handler) finish(s *stream) {
	delete(h.streams, s.id)
	if !s.sentEnd {
		_ = h.fr.WriteRSTStream(s.id, http2.ErrCodeNo)
	}
	h.conn.ResponseComplete(s.m)
}

func streamError(id uint32, desc string) *message.Error {
	return message.NewError(message.ProtocolError, fmt.Sprintf("stream %d: %s", id, desc), nil)
}
