// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h2

import (
	"github.com/gogama/httpchan/message"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// OnReadyRead buffers data and processes every complete frame.
func (h *Handler) OnReadyRead(data []byte) {
	if h.closed {
		return
	}
	h.in.Write(data)
	for !h.closed {
		b := h.in.Bytes()
		if len(b) < frameHeaderLen {
			break
		}
		length := int(b[0])<<16 | int(b[1])<<8 | int(b[2])
		if len(b) < frameHeaderLen+length {
			break
		}
		f, err := h.fr.ReadFrame()
		if err != nil {
			h.frameError(err)
			break
		}
		h.handle(f)
	}
	if !h.closed {
		h.schedule()
		if h.drained() {
			h.flush()
			h.closed = true
			h.conn.ConnectionError(message.NewError(message.RemoteClosed, "server sent GOAWAY", nil))
			return
		}
	}
	h.flush()
}

func (h *Handler) frameError(err error) {
	if se, ok := err.(http2.StreamError); ok {
		if s, ok := h.streams[se.StreamID]; ok {
			h.resetStream(s, streamError(se.StreamID, se.Error()))
		}
		return
	}
	code := http2.ErrCodeProtocol
	if ce, ok := err.(http2.ConnectionError); ok {
		code = http2.ErrCode(ce)
	}
	h.connError(code, message.ProtocolError, "reading frame", err)
}

func (h *Handler) handle(f http2.Frame) {
	switch f := f.(type) {
	case *http2.SettingsFrame:
		h.onSettings(f)
	case *http2.PingFrame:
		if !f.IsAck() {
			_ = h.fr.WritePing(true, f.Data)
		}
	case *http2.HeadersFrame:
		h.block = append(h.block[:0], f.HeaderBlockFragment()...)
		h.blockStream = f.StreamID
		h.blockEndStream = f.StreamEnded()
		if f.HeadersEnded() {
			h.endBlock()
		}
	case *http2.ContinuationFrame:
		h.block = append(h.block, f.HeaderBlockFragment()...)
		if f.HeadersEnded() {
			h.endBlock()
		}
	case *http2.DataFrame:
		h.onData(f)
	case *http2.RSTStreamFrame:
		s, ok := h.streams[f.StreamID]
		if !ok {
			return
		}
		delete(h.streams, f.StreamID)
		if f.ErrCode == http2.ErrCodeRefusedStream {
			h.conn.StreamRefused(s.m)
			return
		}
		h.conn.ResponseFailed(s.m, streamError(f.StreamID, "reset by server: "+f.ErrCode.String()))
	case *http2.GoAwayFrame:
		h.onGoAway(f)
	case *http2.WindowUpdateFrame:
		h.onWindowUpdate(f)
	case *http2.PushPromiseFrame:
		h.connError(http2.ErrCodeProtocol, message.ProtocolError, "unexpected PUSH_PROMISE", nil)
	}
}

func (h *Handler) onSettings(f *http2.SettingsFrame) {
	if f.IsAck() {
		return
	}
	err := f.ForeachSetting(func(s http2.Setting) error {
		switch s.ID {
		case http2.SettingMaxConcurrentStreams:
			h.maxConcurrent = s.Val
		case http2.SettingInitialWindowSize:
			delta := int64(s.Val) - h.peerInitialWindow
			for _, st := range h.streams {
				st.sendWindow += delta
			}
			h.peerInitialWindow = int64(s.Val)
		case http2.SettingMaxFrameSize:
			h.peerMaxFrame = s.Val
		case http2.SettingHeaderTableSize:
			h.enc.SetMaxDynamicTableSizeLimit(s.Val)
		}
		return nil
	})
	if err != nil {
		h.frameError(err)
		return
	}
	_ = h.fr.WriteSettingsAck()
	h.writeAll()
}

func (h *Handler) onData(f *http2.DataFrame) {
	length := f.Header().Length
	if length > 0 {
		_ = h.fr.WriteWindowUpdate(0, length)
	}
	s, ok := h.streams[f.StreamID]
	if !ok {
		return
	}
	if !s.gotHeaders {
		h.resetStream(s, streamError(f.StreamID, "DATA before HEADERS"))
		return
	}
	s.m.Sink.WriteBody(f.Data())
	if f.StreamEnded() {
		h.finish(s)
		return
	}
	if length > 0 {
		_ = h.fr.WriteWindowUpdate(f.StreamID, length)
	}
}

func (h *Handler) onGoAway(f *http2.GoAwayFrame) {
	h.goingAway = true
	h.logger.Debug("received GOAWAY",
		zap.Uint32("lastStream", f.LastStreamID),
		zap.Stringer("code", f.ErrCode))
	ids := make([]uint32, 0)
	for id := range h.streams {
		if id > f.LastStreamID {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	for _, id := range ids {
		s := h.streams[id]
		delete(h.streams, id)
		h.conn.StreamRefused(s.m)
	}
	queued := h.queue
	h.queue = nil
	for _, m := range queued {
		h.conn.StreamRefused(m)
	}
}

func (h *Handler) onWindowUpdate(f *http2.WindowUpdateFrame) {
	inc := int64(f.Increment)
	if f.StreamID == 0 {
		if h.connSendWindow+inc > maxWindow {
			h.connError(http2.ErrCodeFlowControl, message.ProtocolError, "connection send window overflow", nil)
			return
		}
		h.connSendWindow += inc
	} else if s, ok := h.streams[f.StreamID]; ok {
		if s.sendWindow+inc > maxWindow {
			h.resetStream(s, streamError(f.StreamID, "send window overflow"))
			return
		}
		s.sendWindow += inc
	}
	h.writeAll()
}

func (h *Handler) resetStream(s *stream, err *message.Error) {
	delete(h.streams, s.id)
	_ = h.fr.WriteRSTStream(s.id, http2.ErrCodeProtocol)
	h.conn.ResponseFailed(s.m, err)
}
