// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import (
	"net"
	"strconv"
	"sync/atomic"

	"github.com/gogama/httpchan/eventloop"
	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/pipeline"
	"github.com/gogama/httpchan/proto"
	"github.com/gogama/httpchan/retry"
	"github.com/gogama/httpchan/timeout"
	"go.uber.org/zap"
)

var nextChannelID uint64

// Config configures a new Channel.
type Config struct {
	// Host and Port address the server.
	Host string
	Port int

	// TLS selects an encrypted connection. The Dial function must then
	// create TLSTransport values.
	TLS bool

	// Type selects the protocol versions to use.
	Type ConnectionType

	// Pool receives the channel's notifications. It is required.
	Pool Pool

	// Loop is the event loop the channel runs on. It is required.
	Loop eventloop.Loop

	// Dial creates a transport for each connection attempt. It is
	// required.
	Dial Dialer

	// Attempts is the reconnect budget, restored after every
	// successful response. Zero means retry.DefaultAttempts; a negative
	// value means no reconnects.
	Attempts int

	// Retry decides whether failures are absorbed by reconnecting and
	// resending. Nil means retry.DefaultPolicy.
	Retry retry.Policy

	// Timeout sets connect and write timeouts. Nil means
	// timeout.DefaultPolicy.
	Timeout timeout.Policy

	// Pipeline decides HTTP/1.1 pipelining. Nil means
	// pipeline.DefaultPolicy.
	Pipeline pipeline.Policy

	// Handlers are the event handlers to run. Nil means none.
	Handlers *HandlerGroup

	// Logger is the channel logger. Nil means zap.NewNop().
	Logger *zap.Logger
}

// A Channel drives one connection to an HTTP server on behalf of a
// Pool. It connects the transport on demand, speaks HTTP/1.1 or HTTP/2
// over it, pipelines HTTP/1.1 requests when the server allows it, and
// transparently reconnects and resends after recoverable failures.
//
// Every message handed to a channel ends in exactly one of three ways:
// it is finished with a response, it is failed with a *message.Error,
// or it is handed back to the pool through Pool.Requeue.
//
// A Channel is not safe for concurrent use. All of its methods, and
// Deliver in particular, must be called on its event loop.
type Channel struct {
	id       uint64
	host     string
	port     int
	tls      bool
	typ      ConnectionType
	pool     Pool
	loop     eventloop.Loop
	dial     Dialer
	attempts int
	retry    retry.Policy
	timeout  timeout.Policy
	pipe     pipeline.Policy
	handlers *HandlerGroup
	logger   *zap.Logger

	state          State
	pendingEncrypt bool
	gen            uint64
	transport      Transport
	handler        proto.Handler

	budget   int
	failures int
	timeouts int

	estimate pipeline.Estimate
	written  int64
	unacked  int
	writes   []pendingWrite
	sending  bool

	preparing *message.Message
	current   *message.Message
	pipelined []*message.Message
	streams   []*message.Message
	queue     []*message.Message

	upgradeMsg      *message.Message
	upgradeDisabled bool
	switchedToHTTP2 bool
	swapping        bool
	deferredRead    bool

	buffering bool
	pipeBuf   []byte

	closing        bool
	idleNotified   bool
	waiting        bool
	proxyAuthTried bool

	backoffTimer eventloop.Timer
	connectTimer eventloop.Timer
	writeTimer   eventloop.Timer
}

// A pendingWrite is a transport write awaiting acknowledgement. Only
// writes made for the request in flight count towards Written.
type pendingWrite struct {
	n       int
	counted bool
}

// New returns an idle channel. It panics if the configuration lacks a
// pool, loop, or dialer.
func New(cfg Config) *Channel {
	if cfg.Pool == nil {
		panic("httpchan: nil pool")
	}
	if cfg.Loop == nil {
		panic("httpchan: nil loop")
	}
	if cfg.Dial == nil {
		panic("httpchan: nil dialer")
	}
	c := &Channel{
		id:       atomic.AddUint64(&nextChannelID, 1),
		host:     cfg.Host,
		port:     cfg.Port,
		tls:      cfg.TLS,
		typ:      cfg.Type,
		pool:     cfg.Pool,
		loop:     cfg.Loop,
		dial:     cfg.Dial,
		attempts: cfg.Attempts,
		retry:    cfg.Retry,
		timeout:  cfg.Timeout,
		pipe:     cfg.Pipeline,
		handlers: cfg.Handlers,
		logger:   cfg.Logger,
	}
	switch {
	case c.attempts == 0:
		c.attempts = retry.DefaultAttempts
	case c.attempts < 0:
		c.attempts = 0
	}
	if c.retry == nil {
		c.retry = retry.DefaultPolicy
	}
	if c.timeout == nil {
		c.timeout = timeout.DefaultPolicy
	}
	if c.pipe == nil {
		c.pipe = pipeline.DefaultPolicy
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(
		zap.Uint64("channel", c.id),
		zap.String("server", net.JoinHostPort(c.host, strconv.Itoa(c.port))))
	c.budget = c.attempts
	return c
}

// ID returns a process-unique channel identifier.
func (c *Channel) ID() uint64 {
	return c.id
}

// State returns the channel state.
func (c *Channel) State() State {
	return c.state
}

// Type returns the connection type the channel was created with.
func (c *Channel) Type() ConnectionType {
	return c.typ
}

// Protocol returns the protocol spoken on the current connection. The
// result is false while the channel has no usable connection.
func (c *Channel) Protocol() (proto.Protocol, bool) {
	if c.handler == nil {
		return proto.HTTP1, false
	}
	return c.handler.Protocol(), true
}

// Budget returns the number of reconnects the channel may still make
// before a failure surfaces.
func (c *Channel) Budget() int {
	return c.budget
}

// Estimate returns the channel's estimate of HTTP/1.1 pipelining
// support, based on the last response.
func (c *Channel) Estimate() pipeline.Estimate {
	return c.estimate
}

// Written returns the number of bytes of the in-flight HTTP/1.1
// request the transport confirmed as written.
func (c *Channel) Written() int64 {
	return c.written
}

// Queued returns the number of messages waiting to be sent.
func (c *Channel) Queued() int {
	return len(c.queue)
}

// InFlight returns the number of messages sent and awaiting their
// response, including pipelined messages and HTTP/2 streams.
func (c *Channel) InFlight() int {
	n := len(c.pipelined) + len(c.streams)
	if c.current != nil {
		n++
	}
	if c.preparing != nil {
		n++
	}
	return n
}

// Logger returns the channel logger.
func (c *Channel) Logger() *zap.Logger {
	return c.logger
}

// Enqueue adds m to the channel queue and sends it as soon as the
// connection is usable. Call EnsureConnected to make sure the
// connection is being established.
func (c *Channel) Enqueue(m *message.Message) {
	if m == nil {
		panic("httpchan: nil message")
	}
	c.closing = false
	c.idleNotified = false
	m.SetLocation(message.ChannelQueue)
	c.queue = append(c.queue, m)
	c.dispatch()
}

// EnsureConnected starts connecting unless the channel is connected or
// connecting already. It returns true if the connection is usable
// right away. Calling it repeatedly is harmless.
func (c *Channel) EnsureConnected() bool {
	switch {
	case c.handler != nil && c.state != Closing:
		return true
	case c.transport != nil || c.waiting:
		return false
	}
	c.connect()
	return false
}

// CanPipeline reports whether m could be pipelined behind the request
// in flight right now. Both m and the request in flight must be
// admitted by the pipelining policy.
func (c *Channel) CanPipeline(m *message.Message) bool {
	if c.handler == nil || c.handler.Protocol() != proto.HTTP1 {
		return false
	}
	switch {
	case c.swapping, c.closing, c.sending, c.preparing != nil:
	case c.state == Closing || c.state == Connecting:
	case c.current == nil || len(c.queue) > 0:
	case c.upgradeMsg != nil || c.upgradePending():
	case c.estimate != pipeline.ProbablySupported:
	case !c.current.Request.Idempotent() || !c.pipe.Admit(c.current, 0):
	default:
		return c.pipe.Admit(m, len(c.pipelined))
	}
	return false
}

// PipelineInto serializes m behind the request in flight. The bytes
// are buffered until PipelineFlush. It returns false, and does nothing,
// if m cannot be pipelined.
func (c *Channel) PipelineInto(m *message.Message) bool {
	if m == nil {
		panic("httpchan: nil message")
	}
	if !c.CanPipeline(m) {
		return false
	}
	c.idleNotified = false
	m.SetLocation(message.Pipeline)
	if !c.beforeSend(m) {
		return true
	}
	m.Sink.Pipelined = true
	c.pipelined = append(c.pipelined, m)
	c.buffering = true
	done, err := c.handler.SendRequest(m)
	c.buffering = false
	if err != nil || !done {
		c.pipelined = remove(c.pipelined, m)
		c.handler.Cancel(m)
		if err == nil {
			err = message.NewError(message.ProtocolError, "pipelined request not fully serialized", nil)
		}
		c.failMessage(m, wrapErr(err, "serializing pipelined request"))
	}
	return true
}

// PipelineFlush writes the requests buffered by PipelineInto in one
// transport write.
func (c *Channel) PipelineFlush() {
	b := c.pipeBuf
	c.pipeBuf = nil
	if len(b) == 0 || c.transport == nil {
		return
	}
	c.logger.Debug("flushing pipeline", zap.Int("depth", len(c.pipelined)), zap.Int("bytes", len(b)))
	c.transmit(b, false)
}

// Close closes the channel gracefully. Queued messages are handed back
// to the pool at once. Messages in flight complete first, after which
// the transport is closed.
func (c *Channel) Close() {
	c.stopBackoff()
	queued := c.queue
	c.queue = nil
	if len(queued) > 0 {
		c.pool.Requeue(c, queued)
	}
	if c.InFlight() > 0 && c.handler != nil {
		c.closing = true
		return
	}
	c.shutdown()
}

// Abort closes the transport at once and fails every message the
// channel holds with message.Cancelled.
func (c *Channel) Abort() {
	c.stopBackoff()
	c.closing = false
	msgs := c.inFlight()
	msgs = append(msgs, c.pipelined...)
	if c.preparing != nil {
		msgs = append(msgs, c.preparing)
		c.preparing = nil
	}
	msgs = append(msgs, c.queue...)
	c.queue = nil
	if c.transport != nil {
		c.dropTransport(false)
		c.handlers.run(AfterClose, c, nil)
	}
	c.setState(Idle)
	for _, m := range msgs {
		c.failMessage(m, message.NewError(message.Cancelled, "channel aborted", nil))
	}
}

// AbortMessage fails m with message.Cancelled. It is safe to call at
// any time, including from a handler or notification concerning m.
//
// Aborting an HTTP/1.1 message whose request already went out leaves
// the connection unusable. The transport is then closed. The request in
// flight is resent on this channel and unanswered pipelined messages
// go back to the pool.
func (c *Channel) AbortMessage(m *message.Message) {
	if m == nil || m.Ended() {
		return
	}
	err := message.NewError(message.Cancelled, "message aborted", nil)
	if m == c.preparing {
		c.preparing = nil
		c.failMessage(m, err)
		return
	}
	if i := indexOf(c.queue, m); i >= 0 {
		c.queue = remove(c.queue, m)
		c.failMessage(m, err)
		return
	}
	if i := indexOf(c.streams, m); i >= 0 {
		c.streams = remove(c.streams, m)
		c.handler.Cancel(m)
		c.failMessage(m, err)
		c.proceed()
		return
	}
	if m != c.current && indexOf(c.pipelined, m) < 0 {
		return
	}

	var resend []*message.Message
	if c.current != nil && c.current != m {
		resend = append(resend, c.current)
	}
	pipelined := remove(c.pipelined, m)
	c.handler.Cancel(m)
	c.logger.Debug("aborting sent message, closing connection", zap.Stringer("message", m))
	c.dropTransport(false)
	c.handlers.run(AfterClose, c, nil)
	failed := c.requeueFront(resend)
	c.failMessage(m, err)
	c.failResends(failed)
	c.handBack(pipelined)
	c.proceed()
}

func (c *Channel) shutdown() {
	c.closing = false
	if c.transport == nil {
		return
	}
	c.logger.Debug("closing connection")
	c.dropTransport(true)
	c.handlers.run(AfterClose, c, nil)
}

func (c *Channel) upgradePending() bool {
	return c.typ == HTTP2 && !c.tls && !c.upgradeDisabled && !c.switchedToHTTP2
}

func indexOf(ms []*message.Message, m *message.Message) int {
	for i := range ms {
		if ms[i] == m {
			return i
		}
	}
	return -1
}

func remove(ms []*message.Message, m *message.Message) []*message.Message {
	i := indexOf(ms, m)
	if i < 0 {
		return ms
	}
	r := make([]*message.Message, 0, len(ms)-1)
	r = append(r, ms[:i]...)
	return append(r, ms[i+1:]...)
}
