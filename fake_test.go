// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gogama/httpchan/eventloop"
	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/proto"
	"github.com/gogama/httpchan/timeout"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// fakeTransport is a Transport whose signals the test raises by hand.
// Writes are acknowledged at once unless hold is set.
type fakeTransport struct {
	emit      func(Signal)
	host      string
	port      int
	state     TransportState
	written   bytes.Buffer
	writes    int
	rbuf      bytes.Buffer
	hold      bool
	handshake bool
	ignored   bool
	alpn      string
	alpnOK    bool
	closed    bool
	aborted   bool
}

func (t *fakeTransport) Connect(host string, port int) {
	t.host, t.port = host, port
	t.state = TransportConnecting
}

func (t *fakeTransport) Write(p []byte) {
	t.written.Write(p)
	t.writes++
	if !t.hold {
		t.emit(Signal{Kind: BytesWritten, N: len(p)})
	}
}

func (t *fakeTransport) Read() []byte {
	b := append([]byte(nil), t.rbuf.Bytes()...)
	t.rbuf.Reset()
	return b
}

func (t *fakeTransport) Buffered() int                      { return t.rbuf.Len() }
func (t *fakeTransport) Close()                             { t.closed = true; t.state = TransportClosing }
func (t *fakeTransport) Abort()                             { t.aborted = true; t.state = TransportUnconnected }
func (t *fakeTransport) State() TransportState              { return t.state }
func (t *fakeTransport) StartHandshake()                    { t.handshake = true }
func (t *fakeTransport) IgnoreTLSErrors()                   { t.ignored = true }
func (t *fakeTransport) NegotiatedProtocol() (string, bool) { return t.alpn, t.alpnOK }

func (t *fakeTransport) take() string {
	s := t.written.String()
	t.written.Reset()
	return s
}

func (t *fakeTransport) dropped() bool {
	return t.closed || t.aborted
}

// recordingPool records every notification it receives.
type recordingPool struct {
	finished   []*message.Message
	failed     []*message.Message
	errs       []*message.Error
	requeued   []*message.Message
	idle       int
	challenges []*Challenge
	negotiated []string

	auth      func(m *message.Message, ch *Challenge) bool
	tlsOK     bool
	tlsErrs   []error
	onIdle    func(c *Channel)
	onFinish  func(c *Channel, m *message.Message)
	onRequeue func(c *Channel, ms []*message.Message)
}

func (p *recordingPool) MessageFinished(c *Channel, m *message.Message) {
	p.finished = append(p.finished, m)
	if p.onFinish != nil {
		p.onFinish(c, m)
	}
}

func (p *recordingPool) MessageFailed(_ *Channel, m *message.Message, err *message.Error) {
	p.failed = append(p.failed, m)
	p.errs = append(p.errs, err)
}

func (p *recordingPool) Requeue(c *Channel, ms []*message.Message) {
	p.requeued = append(p.requeued, ms...)
	if p.onRequeue != nil {
		p.onRequeue(c, ms)
	}
}

func (p *recordingPool) ChannelIdle(c *Channel) {
	p.idle++
	if p.onIdle != nil {
		p.onIdle(c)
	}
}

func (p *recordingPool) AuthenticationRequired(_ *Channel, m *message.Message, ch *Challenge) bool {
	p.challenges = append(p.challenges, ch)
	if p.auth == nil {
		return false
	}
	return p.auth(m, ch)
}

func (p *recordingPool) TLSErrors(_ *Channel, errs []error) bool {
	p.tlsErrs = append(p.tlsErrs, errs...)
	return p.tlsOK
}

func (p *recordingPool) ProtocolNegotiated(_ *Channel, pr proto.Protocol, fellBack bool) {
	p.negotiated = append(p.negotiated, fmt.Sprintf("%s/%t", pr, fellBack))
}

func (p *recordingPool) kinds() []message.ErrorKind {
	ks := make([]message.ErrorKind, len(p.errs))
	for i := range p.errs {
		ks[i] = p.errs[i].Kind
	}
	return ks
}

// harness runs one Channel on a manual loop over fake transports.
type harness struct {
	t          *testing.T
	loop       *eventloop.Manual
	pool       *recordingPool
	c          *Channel
	transports []*fakeTransport
	events     []string
	alpn       string
	alpnOK     bool
	hold       bool
}

func newHarness(t *testing.T, cfg Config) *harness {
	h := &harness{t: t, loop: &eventloop.Manual{}, pool: &recordingPool{}}
	if cfg.Pool == nil {
		cfg.Pool = h.pool
	}
	if cfg.Host == "" {
		cfg.Host = "example.com"
		cfg.Port = 80
	}
	cfg.Loop = h.loop
	cfg.Dial = func(emit func(Signal)) Transport {
		ft := &fakeTransport{emit: emit, alpn: h.alpn, alpnOK: h.alpnOK, hold: h.hold}
		h.transports = append(h.transports, ft)
		return ft
	}
	if cfg.Handlers == nil {
		cfg.Handlers = &HandlerGroup{}
	}
	for _, evt := range Events() {
		cfg.Handlers.PushBack(evt, HandlerFunc(func(evt Event, _ *Channel, m *message.Message) {
			if m == nil {
				h.events = append(h.events, evt.Name())
			} else {
				h.events = append(h.events, evt.Name()+":"+m.Request.URL.Path)
			}
		}))
	}
	h.c = New(cfg)
	return h
}

// tr returns the transport of the latest connection attempt.
func (h *harness) tr() *fakeTransport {
	require.NotEmpty(h.t, h.transports, "no connection attempt")
	return h.transports[len(h.transports)-1]
}

func (h *harness) send(ms ...*message.Message) {
	for _, m := range ms {
		h.c.Enqueue(m)
	}
	h.c.EnsureConnected()
	h.loop.Run()
}

func (h *harness) signal(s Signal) {
	h.tr().emit(s)
	h.loop.Run()
}

func (h *harness) connected() {
	h.signal(Signal{Kind: Connected})
}

func (h *harness) serve(s string) {
	h.tr().rbuf.WriteString(s)
	h.signal(Signal{Kind: ReadyRead, N: len(s)})
}

func (h *harness) closed() {
	h.signal(Signal{Kind: Disconnected})
}

func (h *harness) clearEvents() {
	h.events = nil
}

func get(t *testing.T, path string) *message.Message {
	return newMsg(t, "GET", path, nil)
}

func newMsg(t *testing.T, method, path string, body interface{}) *message.Message {
	r, err := message.NewRequest(method, "http://example.com"+path, body)
	require.NoError(t, err)
	return message.New(r)
}

func requestLine(method, path string) string {
	return method + " " + path + " HTTP/1.1\r\nHost: example.com\r\n"
}

func okResponse(body string) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

var shortTimeouts = timeout.Fixed(time.Second)

const clientPreface = http2.ClientPreface

// h2Server writes the server side of an HTTP/2 connection.
type h2Server struct {
	buf  bytes.Buffer
	fr   *http2.Framer
	hbuf bytes.Buffer
	enc  *hpack.Encoder
}

func newH2Server() *h2Server {
	s := &h2Server{}
	s.fr = http2.NewFramer(&s.buf, nil)
	s.enc = hpack.NewEncoder(&s.hbuf)
	return s
}

func (s *h2Server) settings() *h2Server {
	_ = s.fr.WriteSettings()
	return s
}

func (s *h2Server) response(id uint32, body string) *h2Server {
	s.hbuf.Reset()
	_ = s.enc.WriteField(hpack.HeaderField{Name: ":status", Value: "200"})
	_ = s.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: s.hbuf.Bytes(),
		EndHeaders:    true,
		EndStream:     body == "",
	})
	if body != "" {
		_ = s.fr.WriteData(id, true, []byte(body))
	}
	return s
}

// rst refuses stream id.
func (s *h2Server) rst(id uint32) *h2Server {
	_ = s.fr.WriteRSTStream(id, http2.ErrCodeRefusedStream)
	return s
}

// reset aborts stream id with an internal error.
func (s *h2Server) reset(id uint32) *h2Server {
	_ = s.fr.WriteRSTStream(id, http2.ErrCodeInternal)
	return s
}

func (s *h2Server) goAway(last uint32) *h2Server {
	_ = s.fr.WriteGoAway(last, http2.ErrCodeNo, nil)
	return s
}

func (s *h2Server) String() string {
	b := s.buf.String()
	s.buf.Reset()
	return b
}

// headerStreams returns the stream ids of the HEADERS frames the client
// wrote.
func headerStreams(t *testing.T, out string) []uint32 {
	out = strings.TrimPrefix(out, clientPreface)
	fr := http2.NewFramer(nil, strings.NewReader(out))
	var ids []uint32
	for {
		f, err := fr.ReadFrame()
		if err == io.EOF {
			return ids
		}
		require.NoError(t, err)
		if hf, ok := f.(*http2.HeadersFrame); ok {
			ids = append(ids, hf.StreamID)
		}
	}
}
