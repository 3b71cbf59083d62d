// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/proto"
	"github.com/gogama/httpchan/proto/h1"
	"github.com/gogama/httpchan/proto/h2"
	"go.uber.org/zap"
)

// dispatch hands queued messages to the protocol handler as far as the
// protocol allows, and reports the channel idle if there is nothing
// left to do.
func (c *Channel) dispatch() {
	if c.handler == nil || c.swapping || c.waiting || c.state == Closing || c.state == Connecting {
		return
	}
	gen := c.gen
	if c.handler.Protocol() == proto.HTTP2 {
		c.dispatchStreams()
	} else {
		for gen == c.gen && c.current == nil && len(c.pipelined) == 0 && len(c.queue) > 0 && !c.closing {
			m := c.queue[0]
			c.queue = c.queue[1:]
			c.startH1(m)
		}
	}
	if gen == c.gen && c.handler != nil && c.InFlight() == 0 && len(c.queue) == 0 {
		c.idle()
	}
}

func (c *Channel) startH1(m *message.Message) {
	c.idleNotified = false
	m.SetLocation(message.InFlight)
	upgrade := c.upgradePending() && c.upgradeMsg == nil && !m.Request.HasBody()
	if upgrade {
		c.logger.Debug("offering h2c upgrade", zap.Stringer("message", m))
		h1.DecorateUpgrade(m.Request, h2.UpgradeSettings())
	}
	if !c.beforeSend(m) {
		if upgrade {
			h1.StripUpgrade(m.Request)
		}
		return
	}
	if upgrade {
		c.upgradeMsg = m
	}
	c.current = m
	c.written = 0
	c.setState(Writing)
	c.sending = true
	c.handler.SetReply(m)
	if c.current == m && c.sending {
		c.sendCurrent()
	}
}

// beforeSend runs the BeforeSend handlers for m. It returns false if a
// handler aborted m or the whole channel meanwhile, or dropped the
// transport, in which case m goes back to the queue.
func (c *Channel) beforeSend(m *message.Message) bool {
	gen := c.gen
	c.preparing = m
	c.handlers.run(BeforeSend, c, m)
	if c.preparing != m {
		return false
	}
	c.preparing = nil
	if gen != c.gen {
		m.SetLocation(message.ChannelQueue)
		c.queue = append(c.queue, m)
		return false
	}
	return true
}

// sendCurrent writes the next part of the in-flight HTTP/1.1 request.
func (c *Channel) sendCurrent() {
	m := c.current
	gen := c.gen
	done, err := c.handler.SendRequest(m)
	if gen != c.gen || c.current != m {
		return
	}
	if err != nil {
		c.logger.Debug("request serialization failed", zap.Stringer("message", m), zap.Error(err))
		pipelined := c.pipelined
		c.dropTransport(false)
		c.handlers.run(AfterClose, c, nil)
		c.failMessage(m, wrapErr(err, "sending request"))
		c.handBack(pipelined)
		c.proceed()
		return
	}
	if done {
		c.sending = false
		if c.state == Writing {
			c.setState(Waiting)
		}
	}
}

func (c *Channel) dispatchStreams() {
	gen := c.gen
	for gen == c.gen && len(c.queue) > 0 && !c.closing {
		m := c.queue[0]
		c.queue = c.queue[1:]
		c.idleNotified = false
		m.SetLocation(message.Stream)
		if !c.beforeSend(m) {
			continue
		}
		c.streams = append(c.streams, m)
		c.setState(Writing)
		_, err := c.handler.SendRequest(m)
		if gen != c.gen {
			return
		}
		switch {
		case errors.Is(err, proto.ErrStreamRefused):
			c.streams = remove(c.streams, m)
			m.SetLocation(message.ChannelQueue)
			c.queue = append([]*message.Message{m}, c.queue...)
			c.logger.Debug("server stopped accepting streams", zap.Int("queued", len(c.queue)))
			if len(c.streams) == 0 {
				c.dropTransport(true)
				c.handlers.run(AfterClose, c, nil)
				c.proceed()
			}
			return
		case err != nil:
			c.streams = remove(c.streams, m)
			c.failMessage(m, wrapErr(err, "sending request"))
		}
	}
	if gen == c.gen && len(c.streams) > 0 {
		c.setState(Waiting)
	}
}

// write hands bytes to the transport and times the write.
func (c *Channel) write(p []byte) {
	if c.buffering {
		c.pipeBuf = append(c.pipeBuf, p...)
		return
	}
	c.transmit(p, true)
}

func (c *Channel) transmit(p []byte, counted bool) {
	if c.transport == nil || len(p) == 0 {
		return
	}
	c.unacked += len(p)
	c.writes = append(c.writes, pendingWrite{n: len(p), counted: counted})
	c.transport.Write(p)
	c.armWriteTimer()
}

// release stops tracking m as in flight. It returns false if the
// channel does not hold m.
func (c *Channel) release(m *message.Message) bool {
	if m == nil {
		return false
	}
	if c.current == m {
		c.current = nil
		c.written = 0
		return true
	}
	if i := indexOf(c.streams, m); i >= 0 {
		c.streams = remove(c.streams, m)
		return true
	}
	return false
}

// promote makes the oldest pipelined message the one in flight.
func (c *Channel) promote() {
	if c.current != nil || len(c.pipelined) == 0 || c.handler == nil {
		return
	}
	m := c.pipelined[0]
	c.pipelined = c.pipelined[1:]
	c.current = m
	m.SetLocation(message.InFlight)
	c.setState(Waiting)
	c.handler.SetReply(m)
}

func (c *Channel) responseComplete(m *message.Message) {
	dirty := c.sending && c.current == m
	if !c.release(m) {
		c.logger.Debug("dropping response for message no longer held", zap.Stringer("message", m))
		return
	}
	gen := c.gen
	c.sending = c.sending && !dirty
	sink := m.Sink
	isH1 := c.handler.Protocol() == proto.HTTP1

	if m == c.upgradeMsg {
		c.logger.Debug("h2c upgrade declined", zap.Int("status", sink.StatusCode))
		c.upgradeMsg = nil
		c.upgradeDisabled = true
		h1.StripUpgrade(m.Request)
	}
	if isH1 {
		c.estimate = c.pipe.Detect(sink)
	}
	c.budget = c.attempts
	c.failures = 0
	c.timeouts = 0
	c.proxyAuthTried = false

	if isH1 && (dirty || m.Request.Close || sink.ConnectionClose()) {
		c.logger.Debug("connection not reusable after response", zap.Stringer("message", m))
		pipelined := c.pipelined
		c.dropTransport(true)
		c.handlers.run(AfterClose, c, nil)
		c.handBack(pipelined)
	}

	if ch := challengeOf(sink); ch != nil {
		c.authenticate(m, ch)
	} else {
		c.handlers.run(AfterResponse, c, m)
		if m.Finish() {
			c.logger.Debug("message finished", zap.Stringer("message", m), zap.Int("status", sink.StatusCode))
			c.pool.MessageFinished(c, m)
		}
	}

	if gen == c.gen {
		c.promote()
	}
	if gen == c.gen || c.handler == nil {
		c.proceed()
	}
}

// authenticate resends m after the pool supplied credentials, or
// fails it.
func (c *Channel) authenticate(m *message.Message, ch *Challenge) {
	kind := message.AuthenticationRequired
	if ch.Proxy {
		kind = message.ProxyAuthRequired
	}
	if !c.pool.AuthenticationRequired(c, m, ch) {
		c.failMessage(m, message.NewError(kind, fmt.Sprintf("%d %s", m.Sink.StatusCode, http.StatusText(m.Sink.StatusCode)), nil))
		return
	}
	if m.Ended() {
		return
	}
	if failed := c.requeueFront([]*message.Message{m}); len(failed) > 0 {
		c.failResends(failed)
		return
	}
	c.logger.Debug("resending with credentials", zap.Stringer("message", m), zap.String("scheme", ch.Scheme))
	c.handlers.run(BeforeResend, c, m)
}

func (c *Channel) upgradeAccepted(m *message.Message) {
	if m != c.upgradeMsg || m != c.current {
		c.onFailure(message.NewError(message.ProtocolError, "unsolicited protocol switch", nil))
		return
	}
	c.logger.Debug("h2c upgrade accepted", zap.Stringer("message", m))
	c.swapping = true
	gen := c.gen
	c.loop.Post(func() {
		if gen == c.gen && c.swapping {
			c.swap(m)
		}
	})
}

// swap replaces the HTTP/1.1 handler with an HTTP/2 one after an
// acknowledged h2c upgrade. The upgrade request becomes stream 1.
func (c *Channel) swap(m *message.Message) {
	gen := c.gen
	old := c.handler
	rest := old.Detach()
	old.Close()

	c.current = nil
	c.sending = false
	c.upgradeMsg = nil
	c.switchedToHTTP2 = true
	h1.StripUpgrade(m.Request)
	m.Sink.Reset()
	m.SetLocation(message.Stream)
	c.streams = append(c.streams, m)
	c.handler = h2.New((*handlerConn)(c), h2.Options{Scheme: "http", Upgraded: m})
	c.swapping = false
	c.setState(Waiting)
	c.logger.Info("switched to HTTP/2")

	c.handlers.run(AfterProtocolSwitch, c, m)
	if gen != c.gen {
		return
	}
	c.pool.ProtocolNegotiated(c, proto.HTTP2, false)
	if gen != c.gen {
		return
	}
	if len(rest) > 0 {
		c.handler.OnReadyRead(rest)
	}
	if gen != c.gen {
		return
	}
	if c.deferredRead || c.transport.Buffered() > 0 {
		c.deferredRead = false
		c.onReadyRead()
	}
	if gen == c.gen {
		c.dispatch()
	}
}

func (c *Channel) responseFailed(m *message.Message, err *message.Error) {
	isCurrent := c.current == m
	if !c.release(m) {
		return
	}
	if isCurrent {
		// An HTTP/1.1 response failing leaves the framing unknown.
		pipelined := c.pipelined
		c.dropTransport(false)
		c.handlers.run(AfterClose, c, nil)
		c.handBack(pipelined)
	}
	c.failMessage(m, err)
	c.proceed()
}

func (c *Channel) streamRefused(m *message.Message) {
	if !c.release(m) {
		return
	}
	if err := prepareResend(m); err != nil {
		c.failResends([]*message.Message{m})
		return
	}
	c.logger.Debug("stream refused, requeueing", zap.Stringer("message", m))
	c.handlers.run(BeforeResend, c, m)
	c.pool.Requeue(c, []*message.Message{m})
}

// A handlerConn is the proto.Conn view of a Channel.
type handlerConn Channel

func (hc *handlerConn) WriteTransport(p []byte) {
	(*Channel)(hc).write(p)
}

func (hc *handlerConn) ResponseComplete(m *message.Message) {
	(*Channel)(hc).responseComplete(m)
}

func (hc *handlerConn) UpgradeAccepted(m *message.Message) {
	(*Channel)(hc).upgradeAccepted(m)
}

func (hc *handlerConn) ResponseFailed(m *message.Message, err *message.Error) {
	(*Channel)(hc).responseFailed(m, err)
}

func (hc *handlerConn) StreamRefused(m *message.Message) {
	(*Channel)(hc).streamRefused(m)
}

func (hc *handlerConn) ConnectionError(err *message.Error) {
	(*Channel)(hc).onFailure(err)
}

func (hc *handlerConn) Logger() *zap.Logger {
	return hc.logger
}
