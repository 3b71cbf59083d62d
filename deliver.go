// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import (
	"github.com/gogama/httpchan/eventloop"
	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/pipeline"
	"github.com/gogama/httpchan/proto"
	"github.com/gogama/httpchan/proto/h1"
	"github.com/gogama/httpchan/proto/h2"
	"github.com/gogama/httpchan/retry"
	"github.com/gogama/httpchan/timeout"
	"github.com/gogama/httpchan/transient"
	"go.uber.org/zap"
)

// Deliver feeds a signal to the channel state machine. Signals emitted
// by a transport the channel already discarded are ignored, as is any
// signal which makes no sense in the current state.
//
// Transports created through the channel's Dialer have their signals
// delivered automatically. Deliver is exported for transports driven
// from outside, and for tests.
func (c *Channel) Deliver(s Signal) {
	if c.transport == nil || (s.gen != 0 && s.gen != c.gen) {
		c.logger.Debug("ignoring stale signal", zap.Stringer("signal", s))
		return
	}
	c.logger.Debug("signal", zap.Stringer("signal", s), zap.Stringer("state", c.state))
	switch s.Kind {
	case Connected:
		c.onConnected()
	case HandshakeComplete:
		c.onHandshakeComplete()
	case HandshakeError:
		c.onFailure(message.NewError(message.TLSHandshakeFailed, "TLS handshake failed", s.Err))
	case TLSErrors:
		c.onTLSErrors(s.Errs)
	case ProxyAuthRequired:
		c.onProxyAuthRequired(s)
	case Disconnected:
		c.onFailure(message.NewError(message.RemoteClosed, "connection closed by peer", nil))
	case Error:
		c.onFailure(wrapErr(s.Err, "transport error"))
	case BytesWritten:
		c.onBytesWritten(s.N)
	case ReadyRead:
		c.onReadyRead()
	case WriteTimeout:
		if c.unacked > 0 {
			c.onFailure(message.NewError(message.Timeout, "write timed out", nil))
		}
	default:
		c.logger.Debug("ignoring unknown signal", zap.Stringer("signal", s))
	}
}

func (c *Channel) connect() {
	c.stopBackoff()
	c.idleNotified = false
	c.gen++
	gen := c.gen
	c.handlers.run(BeforeConnect, c, nil)
	t := c.dial(func(s Signal) {
		s.gen = gen
		c.loop.Post(func() { c.Deliver(s) })
	})
	if t == nil {
		panic("httpchan: dialer returned nil transport")
	}
	if _, ok := t.(TLSTransport); c.tls && !ok {
		panic("httpchan: TLS channel needs a TLSTransport")
	}
	c.transport = t
	c.pendingEncrypt = c.tls
	c.unacked = 0
	c.writes = nil
	c.estimate = pipeline.Unknown
	c.setState(Connecting)
	c.armConnectTimer()
	c.logger.Debug("connecting", zap.Int("budget", c.budget))
	t.Connect(c.host, c.port)
}

func (c *Channel) onConnected() {
	if c.state != Connecting || c.handler != nil {
		return
	}
	if c.pendingEncrypt {
		c.transport.(TLSTransport).StartHandshake()
		return
	}
	if c.typ == HTTP2Direct {
		c.install(proto.HTTP2, false)
	} else {
		c.install(proto.HTTP1, false)
	}
}

func (c *Channel) onHandshakeComplete() {
	if c.state != Connecting || !c.pendingEncrypt {
		return
	}
	c.pendingEncrypt = false
	negotiated, ok := c.transport.(TLSTransport).NegotiatedProtocol()
	switch {
	case c.typ == HTTP2Direct:
		c.install(proto.HTTP2, false)
	case c.typ == HTTP1:
		c.install(proto.HTTP1, false)
	case ok && negotiated == proto.ALPNHTTP2:
		c.install(proto.HTTP2, false)
	case ok && negotiated == proto.ALPNHTTP1:
		c.install(proto.HTTP1, false)
	default:
		c.logger.Info("server negotiated no known protocol, falling back to HTTP/1.1",
			zap.String("alpn", negotiated))
		c.install(proto.HTTP1, true)
	}
}

// install creates the protocol handler for a freshly usable transport.
func (c *Channel) install(p proto.Protocol, fellBack bool) {
	c.stopTimer(&c.connectTimer)
	gen := c.gen
	if p == proto.HTTP2 {
		scheme := "http"
		if c.tls {
			scheme = "https"
		}
		c.handler = h2.New((*handlerConn)(c), h2.Options{Scheme: scheme})
	} else {
		c.handler = h1.New((*handlerConn)(c))
	}
	c.setState(Idle)
	c.logger.Debug("connected", zap.Stringer("protocol", p))
	c.handlers.run(AfterConnect, c, nil)
	if gen != c.gen {
		return
	}
	c.pool.ProtocolNegotiated(c, p, fellBack)
	if gen != c.gen {
		return
	}
	c.dispatch()
	if gen == c.gen && c.transport.Buffered() > 0 {
		c.onReadyRead()
	}
}

func (c *Channel) onTLSErrors(errs []error) {
	if c.state != Connecting || !c.pendingEncrypt {
		return
	}
	gen := c.gen
	if c.pool.TLSErrors(c, errs) {
		if gen == c.gen {
			c.logger.Info("ignoring TLS errors", zap.Errors("errors", errs))
			c.transport.(TLSTransport).IgnoreTLSErrors()
		}
		return
	}
	if gen != c.gen {
		return
	}
	var cause error
	if len(errs) > 0 {
		cause = errs[0]
	}
	c.onFailure(message.NewError(message.TLSHandshakeFailed, "server certificate rejected", cause))
}

func (c *Channel) onProxyAuthRequired(s Signal) {
	ch := s.Challenge
	if ch == nil {
		ch = &Challenge{Proxy: true}
	}
	var m *message.Message
	if len(c.queue) > 0 {
		m = c.queue[0]
	}
	gen := c.gen
	if !c.proxyAuthTried && c.pool.AuthenticationRequired(c, m, ch) {
		if gen != c.gen {
			return
		}
		c.proxyAuthTried = true
		c.logger.Info("reconnecting with proxy credentials")
		c.dropTransport(false)
		c.handlers.run(AfterClose, c, nil)
		c.proceed()
		return
	}
	if gen == c.gen {
		c.onFailure(message.NewError(message.ProxyAuthRequired, "proxy authentication required", s.Err))
	}
}

func (c *Channel) onBytesWritten(n int) {
	c.unacked -= n
	for n > 0 && len(c.writes) > 0 {
		w := &c.writes[0]
		k := n
		if k > w.n {
			k = w.n
		}
		if w.counted && c.current != nil {
			c.written += int64(k)
		}
		w.n -= k
		n -= k
		if w.n == 0 {
			c.writes = c.writes[1:]
		}
	}
	if c.unacked > 0 {
		c.armWriteTimer()
		return
	}
	c.unacked = 0
	c.writes = nil
	c.stopTimer(&c.writeTimer)
	if c.sending {
		c.sendCurrent()
	}
}

func (c *Channel) onReadyRead() {
	if c.swapping {
		c.deferredRead = true
		return
	}
	if c.handler == nil {
		return
	}
	data := c.transport.Read()
	if len(data) == 0 {
		return
	}
	if c.state == Waiting {
		c.setState(Reading)
	}
	c.handler.OnReadyRead(data)
}

// onFailure handles the loss of the transport: a transport error, a
// peer close, a timeout, or a connection-level protocol error.
func (c *Channel) onFailure(err *message.Error) {
	if c.transport == nil {
		return
	}
	gen := c.gen
	connecting := c.state == Connecting

	// Bytes read before the close may complete responses, and a
	// close-delimited body is completed by the close itself.
	if err.Kind == message.RemoteClosed && c.handler != nil && !c.swapping {
		c.setState(Closing)
		if c.transport.Buffered() > 0 {
			c.handler.OnReadyRead(c.transport.Read())
		}
		if gen != c.gen {
			return
		}
		if c.current != nil && c.handler.EOF() {
			c.logger.Debug("response delimited by connection close")
		}
		if gen != c.gen {
			return
		}
	}

	inflight := c.inFlight()
	pipelined := c.pipelined
	c.dropTransport(false)
	c.handlers.run(AfterClose, c, nil)

	if len(inflight) == 0 && !connecting {
		c.logger.Debug("connection closed while idle", zap.Error(err))
		c.handBack(pipelined)
		c.proceed()
		return
	}

	f := &retry.Failure{
		Kind:    err.Kind,
		Err:     err,
		Budget:  c.budget,
		Attempt: c.failures,
	}
	var resend, failed []*message.Message
	retrying := false
	if connecting {
		if retrying = c.retry.Decide(f); !retrying {
			failed, c.queue = c.queue, nil
		}
	} else {
		for _, m := range inflight {
			f.Message = m
			if c.retry.Decide(f) {
				resend = append(resend, m)
			} else {
				failed = append(failed, m)
			}
		}
		f.Message = nil
		if len(resend) > 0 {
			f.Message = resend[0]
			retrying = true
		}
	}

	if retrying {
		c.budget--
		c.failures++
		if err.Kind == message.Timeout {
			c.timeouts++
		}
		c.logger.Info("absorbing transport failure",
			zap.Error(err),
			zap.Int("resending", len(resend)),
			zap.Int("budget", c.budget))
	}
	resendFailed := c.requeueFront(resend)
	if retrying {
		c.scheduleReconnect(f)
	}
	for _, m := range resend {
		if indexOf(resendFailed, m) < 0 {
			c.handlers.run(BeforeResend, c, m)
		}
	}
	c.failResends(resendFailed)
	for _, m := range failed {
		c.failMessage(m, err)
	}
	c.handBack(pipelined)
	if !retrying {
		c.proceed()
	}
}

// requeueFront puts ms back at the front of the queue, in order,
// ready to be resent. It returns the messages which cannot be resent
// because their body cannot be replayed.
func (c *Channel) requeueFront(ms []*message.Message) (failed []*message.Message) {
	back := make([]*message.Message, 0, len(ms)+len(c.queue))
	for _, m := range ms {
		if err := prepareResend(m); err != nil {
			failed = append(failed, m)
			continue
		}
		m.SetLocation(message.ChannelQueue)
		back = append(back, m)
	}
	c.queue = append(back, c.queue...)
	return
}

// handBack returns unanswered pipelined messages to the pool, which
// may reschedule them on any channel.
func (c *Channel) handBack(ms []*message.Message) {
	var back []*message.Message
	for _, m := range ms {
		if err := prepareResend(m); err != nil {
			c.failResends([]*message.Message{m})
			continue
		}
		back = append(back, m)
	}
	if len(back) == 0 {
		return
	}
	c.logger.Debug("handing pipelined messages back to the pool", zap.Int("count", len(back)))
	c.pool.Requeue(c, back)
}

func (c *Channel) failResends(ms []*message.Message) {
	for _, m := range ms {
		c.failMessage(m, message.NewError(message.ContentResendFailed, "request body cannot be replayed", nil))
	}
}

func prepareResend(m *message.Message) error {
	m.Sink.Reset()
	m.Sink.Resends++
	return m.Request.ResetBody()
}

func (c *Channel) scheduleReconnect(f *retry.Failure) {
	d := c.retry.Wait(f)
	c.waiting = true
	resume := func() {
		if !c.waiting {
			return
		}
		c.waiting = false
		c.backoffTimer = nil
		c.proceed()
	}
	if d <= 0 {
		c.loop.Post(resume)
		return
	}
	c.logger.Debug("waiting before reconnect", zap.Duration("wait", d))
	c.backoffTimer = c.loop.AfterFunc(d, resume)
}

func (c *Channel) stopBackoff() {
	c.waiting = false
	c.stopTimer(&c.backoffTimer)
}

// dropTransport discards the transport and the protocol handler. The
// messages in flight are forgotten: the caller owns them.
func (c *Channel) dropTransport(graceful bool) {
	c.stopTimer(&c.connectTimer)
	c.stopTimer(&c.writeTimer)
	if c.handler != nil {
		c.handler.Close()
		c.handler = nil
	}
	if c.transport != nil {
		if graceful {
			c.transport.Close()
		} else {
			c.transport.Abort()
		}
		c.transport = nil
	}
	c.gen++
	c.current = nil
	c.pipelined = nil
	c.streams = nil
	c.sending = false
	c.swapping = false
	c.deferredRead = false
	c.pendingEncrypt = false
	c.unacked = 0
	c.writes = nil
	c.written = 0
	c.pipeBuf = nil
	if c.upgradeMsg != nil {
		h1.StripUpgrade(c.upgradeMsg.Request)
		c.upgradeMsg = nil
		c.upgradeDisabled = true
	}
	c.setState(Idle)
}

// proceed makes progress after a change: it sends queued messages,
// reconnects for them, or reports the channel idle.
func (c *Channel) proceed() {
	switch {
	case c.waiting || c.state == Connecting:
	case c.handler != nil:
		c.dispatch()
	case len(c.queue) > 0:
		c.connect()
	default:
		c.idle()
	}
}

func (c *Channel) idle() {
	if c.closing {
		c.shutdown()
		return
	}
	c.setState(Idle)
	if c.idleNotified {
		return
	}
	c.idleNotified = true
	c.pool.ChannelIdle(c)
}

func (c *Channel) inFlight() []*message.Message {
	if c.current != nil {
		return []*message.Message{c.current}
	}
	return append([]*message.Message(nil), c.streams...)
}

func (c *Channel) failMessage(m *message.Message, err *message.Error) {
	if !m.Fail(err) {
		return
	}
	c.logger.Warn("message failed", zap.Stringer("message", m), zap.Error(err))
	c.handlers.run(AfterFailure, c, m)
	c.pool.MessageFailed(c, m, err)
}

func (c *Channel) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("state", zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
}

func (c *Channel) armConnectTimer() {
	c.stopTimer(&c.connectTimer)
	d := c.timeout.Timeout(&timeout.Attempt{Phase: timeout.Connect, Timeouts: c.timeouts})
	if d >= timeout.Never {
		return
	}
	gen := c.gen
	c.connectTimer = c.loop.AfterFunc(d, func() {
		if gen == c.gen && c.state == Connecting {
			c.connectTimer = nil
			c.onFailure(message.NewError(message.Timeout, "connect timed out", nil))
		}
	})
}

func (c *Channel) armWriteTimer() {
	c.stopTimer(&c.writeTimer)
	d := c.timeout.Timeout(&timeout.Attempt{Phase: timeout.Write, Timeouts: c.timeouts})
	if d >= timeout.Never {
		return
	}
	gen := c.gen
	c.writeTimer = c.loop.AfterFunc(d, func() {
		c.Deliver(Signal{Kind: WriteTimeout, gen: gen})
	})
}

func (c *Channel) stopTimer(t *eventloop.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func wrapErr(err error, desc string) *message.Error {
	return transient.Wrap(err, desc)
}
