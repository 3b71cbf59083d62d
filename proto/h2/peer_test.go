// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h2

import (
	"bytes"
	"io"
	"testing"

	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/proto/prototest"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// peer plays the server side of a connection in tests.
type peer struct {
	t    *testing.T
	out  bytes.Buffer
	fr   *http2.Framer
	hbuf bytes.Buffer
	enc  *hpack.Encoder
	dec  *hpack.Decoder
}

// frame is a summary of a frame written by the client.
type frame struct {
	typ      http2.FrameType
	stream   uint32
	end      bool
	ack      bool
	data     []byte
	fields   map[string]string
	code     http2.ErrCode
	inc      uint32
	settings []http2.Setting
}

func newPeer(t *testing.T) *peer {
	p := &peer{t: t}
	p.fr = http2.NewFramer(&p.out, nil)
	p.enc = hpack.NewEncoder(&p.hbuf)
	p.dec = hpack.NewDecoder(4096, nil)
	return p
}

func (p *peer) take() []byte {
	b := append([]byte(nil), p.out.Bytes()...)
	p.out.Reset()
	return b
}

func (p *peer) settings(settings ...http2.Setting) *peer {
	require.NoError(p.t, p.fr.WriteSettings(settings...))
	return p
}

func (p *peer) headers(id uint32, end bool, kv ...string) *peer {
	p.hbuf.Reset()
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(p.t, p.enc.WriteField(hpack.HeaderField{Name: kv[i], Value: kv[i+1]}))
	}
	require.NoError(p.t, p.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: p.hbuf.Bytes(),
		EndStream:     end,
		EndHeaders:    true,
	}))
	return p
}

func (p *peer) data(id uint32, end bool, s string) *peer {
	require.NoError(p.t, p.fr.WriteData(id, end, []byte(s)))
	return p
}

// read decodes every frame the client wrote, skipping the connection
// preface if present.
func (p *peer) read(conn *prototest.Conn) []frame {
	b := conn.TakeWritten()
	b = bytes.TrimPrefix(b, []byte(http2.ClientPreface))
	fr := http2.NewFramer(io.Discard, bytes.NewReader(b))
	var frames []frame
	for {
		f, err := fr.ReadFrame()
		if err == io.EOF {
			return frames
		}
		require.NoError(p.t, err)
		x := frame{typ: f.Header().Type, stream: f.Header().StreamID}
		switch f := f.(type) {
		case *http2.SettingsFrame:
			x.ack = f.IsAck()
			_ = f.ForeachSetting(func(s http2.Setting) error {
				x.settings = append(x.settings, s)
				return nil
			})
		case *http2.HeadersFrame:
			x.end = f.StreamEnded()
			fields, err := p.dec.DecodeFull(f.HeaderBlockFragment())
			require.NoError(p.t, err)
			x.fields = map[string]string{}
			for _, hf := range fields {
				x.fields[hf.Name] = hf.Value
			}
		case *http2.DataFrame:
			x.end = f.StreamEnded()
			x.data = append([]byte(nil), f.Data()...)
		case *http2.RSTStreamFrame:
			x.code = f.ErrCode
		case *http2.GoAwayFrame:
			x.code = f.ErrCode
		case *http2.WindowUpdateFrame:
			x.inc = f.Increment
		case *http2.PingFrame:
			x.ack = f.IsAck()
			x.data = append([]byte(nil), f.Data[:]...)
		}
		frames = append(frames, x)
	}
}

func only(frames []frame, typ http2.FrameType) []frame {
	var r []frame
	for _, f := range frames {
		if f.typ == typ {
			r = append(r, f)
		}
	}
	return r
}

func newMessage(t *testing.T, method, url string, body interface{}) *message.Message {
	r, err := message.NewRequest(method, url, body)
	require.NoError(t, err)
	return message.New(r)
}

func feed(h *Handler, b []byte, size int) {
	for len(b) > 0 {
		n := size
		if n > len(b) {
			n = len(b)
		}
		h.OnReadyRead(b[:n])
		b = b[n:]
	}
}
