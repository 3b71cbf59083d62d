// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"crypto/tls"
	"net"
	urlpkg "net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogama/httpchan"
	"github.com/gogama/httpchan/eventloop"
	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/pipeline"
	"github.com/gogama/httpchan/proto"
	"github.com/gogama/httpchan/retry"
	"github.com/gogama/httpchan/timeout"
	"github.com/gogama/httpchan/transport"
	"go.uber.org/zap"
)

const (
	// DefaultChannels is the channel limit used when Options.Channels
	// is zero.
	DefaultChannels = 6

	// DefaultMaxRedirects is the redirect limit used when
	// Options.MaxRedirects is zero.
	DefaultMaxRedirects = 10
)

// Credentials returns the user name and password to answer an
// authentication challenge with. It returns false to decline.
type Credentials func(ch *httpchan.Challenge) (username, password string, ok bool)

// Options configure a Pool. The zero value of every field except Host
// is valid.
type Options struct {
	// Host and Port address the server. A zero Port means 443 when TLS
	// is set, and 80 otherwise.
	Host string
	Port int

	// TLS selects encrypted connections.
	TLS bool

	// Type selects the protocol versions to use.
	Type httpchan.ConnectionType

	// Channels limits the number of channels, and thus connections, to
	// the server. Zero means DefaultChannels.
	Channels int

	// MaxRedirects limits how many redirects Do follows. Zero means
	// DefaultMaxRedirects; a negative value disables redirect
	// following.
	MaxRedirects int

	// Attempts, Retry, Timeout and Pipeline are passed on to every
	// channel. See httpchan.Config.
	Attempts int
	Retry    retry.Policy
	Timeout  timeout.Policy
	Pipeline pipeline.Policy

	// Handlers are installed on every channel.
	Handlers *httpchan.HandlerGroup

	// Logger is the pool logger. Nil means zap.NewNop().
	Logger *zap.Logger

	// Loop is the event loop the pool and its channels run on. Nil
	// means a Runner owned by the pool and stopped by Close.
	Loop eventloop.Loop

	// Dial creates transports. Nil means transports from package
	// transport configured from TLSConfig and Proxy.
	Dial httpchan.Dialer

	// TLSConfig is the base TLS configuration of the default dialer.
	// The pool sets NextProtos to match the connection type.
	TLSConfig *tls.Config

	// Proxy is the URL of an HTTP proxy the default dialer tunnels
	// through.
	Proxy *urlpkg.URL

	// Credentials and ProxyCredentials answer Basic authentication
	// challenges from the server and the proxy. Nil declines.
	Credentials      Credentials
	ProxyCredentials Credentials

	// TLSErrors decides whether to continue a TLS handshake despite
	// certificate errors. Nil rejects the certificate.
	TLSErrors func(errs []error) bool
}

// A Pool sends requests to one HTTP server over a bounded set of
// connection channels. It is safe for concurrent use by multiple
// goroutines.
//
// A Pool implements httpchan.Pool. Its channels notify it on the event
// loop, and the httpchan.Pool methods must not be called otherwise.
type Pool struct {
	opts      Options
	loop      eventloop.Loop
	runner    *eventloop.Runner
	logger    *zap.Logger
	proxyAuth atomic.Value

	lock   sync.Mutex
	queue  []*message.Message
	closed bool

	// Event loop state.
	channels   []*httpchan.Channel
	h2         *httpchan.Channel
	noH2       bool
	scheduling bool
	rescan     bool
}

// New returns a pool with no connections. Channels are created and
// connected on demand. It panics if opts.Host is empty.
func New(opts Options) *Pool {
	if opts.Host == "" {
		panic("httpchan/pool: empty host")
	}
	if opts.Port == 0 {
		opts.Port = 80
		if opts.TLS {
			opts.Port = 443
		}
	}
	if opts.Channels <= 0 {
		opts.Channels = DefaultChannels
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	p := &Pool{opts: opts, loop: opts.Loop, logger: opts.Logger}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.With(zap.String("pool", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))))
	if p.loop == nil {
		p.runner = eventloop.NewRunner()
		p.loop = p.runner
	}
	p.proxyAuth.Store("")
	return p
}

// Submit queues m for sending and returns at once. Wait on m.Done for
// the outcome. If the pool is closed m fails with message.Cancelled.
func (p *Pool) Submit(m *message.Message) {
	if m == nil {
		panic("httpchan/pool: nil message")
	}
	m.SetLocation(message.OuterQueue)
	p.lock.Lock()
	closed := p.closed
	if !closed {
		p.queue = append(p.queue, m)
	}
	p.lock.Unlock()
	if closed {
		m.Fail(message.NewError(message.Cancelled, "pool closed", nil))
		return
	}
	p.loop.Post(p.schedule)
}

// Do sends req and blocks until the final response arrived, following
// redirects to the same server. It returns the message holding the
// response. A non-2XX status code does not result in an error.
//
// Cancelling ctx aborts the request, and Do then returns an error of
// kind message.Cancelled wrapping ctx.Err().
//
// Do must not be called from the pool's event loop.
func (p *Pool) Do(ctx context.Context, req *message.Request) (*message.Message, error) {
	for hops := 0; ; hops++ {
		m := message.New(req)
		p.Submit(m)
		select {
		case <-m.Done():
		case <-ctx.Done():
			p.loop.Post(func() { p.abort(m) })
			<-m.Done()
		}
		if err := m.Err(); err != nil {
			if ctx.Err() != nil && message.KindOf(err) == message.Cancelled {
				return m, message.NewError(message.Cancelled, "request cancelled", ctx.Err())
			}
			return m, err
		}
		next, err := p.redirect(req, m.Sink, hops)
		if err != nil || next == nil {
			return m, err
		}
		p.logger.Debug("following redirect",
			zap.Int("status", m.Sink.StatusCode),
			zap.Stringer("location", next.URL))
		req = next
	}
}

// Get issues a GET to the specified URL, using the same policies
// followed by Do.
func (p *Pool) Get(ctx context.Context, url string) (*message.Message, error) {
	return Get(ctx, p, url)
}

// Head issues a HEAD to the specified URL, using the same policies
// followed by Do.
func (p *Pool) Head(ctx context.Context, url string) (*message.Message, error) {
	return Head(ctx, p, url)
}

// Post issues a POST to the specified URL, using the same policies
// followed by Do.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by message.NewRequest, namely: string; []byte; and
// io.Reader.
func (p *Pool) Post(ctx context.Context, url, contentType string, body interface{}) (*message.Message, error) {
	return Post(ctx, p, url, contentType, body)
}

// PostForm issues a POST to the specified URL, with data's keys and
// values URL-encoded as the request body.
func (p *Pool) PostForm(ctx context.Context, url string, data urlpkg.Values) (*message.Message, error) {
	return PostForm(ctx, p, url, data)
}

// CloseIdleConnections gracefully closes the connections of channels
// with nothing to do. The channels reconnect when they get work again.
func (p *Pool) CloseIdleConnections() {
	p.loop.Post(func() {
		for _, c := range p.channels {
			if c.InFlight() == 0 && c.Queued() == 0 {
				c.Close()
			}
		}
	})
}

// Close aborts every channel and fails all pending messages with
// message.Cancelled. If the pool owns its event loop, Close stops it
// and returns once the loop finished.
func (p *Pool) Close() {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return
	}
	p.closed = true
	queued := p.queue
	p.queue = nil
	p.lock.Unlock()
	p.loop.Post(func() {
		p.logger.Debug("closing pool", zap.Int("queued", len(queued)), zap.Int("channels", len(p.channels)))
		for _, m := range queued {
			m.Fail(message.NewError(message.Cancelled, "pool closed", nil))
		}
		for _, c := range p.channels {
			c.Abort()
		}
	})
	if p.runner != nil {
		p.runner.Stop()
	}
}

// MessageFinished implements httpchan.Pool.
func (p *Pool) MessageFinished(c *httpchan.Channel, m *message.Message) {
	p.logger.Debug("message finished", zap.Uint64("channel", c.ID()), zap.Stringer("message", m))
	p.loop.Post(p.schedule)
}

// MessageFailed implements httpchan.Pool.
func (p *Pool) MessageFailed(c *httpchan.Channel, m *message.Message, err *message.Error) {
	p.logger.Debug("message failed", zap.Uint64("channel", c.ID()), zap.Stringer("message", m), zap.Error(err))
	p.loop.Post(p.schedule)
}

// Requeue implements httpchan.Pool. The messages go back to the front
// of the pool queue, in order.
func (p *Pool) Requeue(c *httpchan.Channel, ms []*message.Message) {
	p.lock.Lock()
	closed := p.closed
	if !closed {
		for _, m := range ms {
			m.SetLocation(message.OuterQueue)
		}
		p.queue = append(append([]*message.Message(nil), ms...), p.queue...)
	}
	p.lock.Unlock()
	if closed {
		for _, m := range ms {
			m.Fail(message.NewError(message.Cancelled, "pool closed", nil))
		}
		return
	}
	p.logger.Debug("messages requeued", zap.Uint64("channel", c.ID()), zap.Int("count", len(ms)))
	p.loop.Post(p.schedule)
}

// ChannelIdle implements httpchan.Pool.
func (p *Pool) ChannelIdle(_ *httpchan.Channel) {
	p.loop.Post(p.schedule)
}

// AuthenticationRequired implements httpchan.Pool. It answers Basic
// challenges with Options.Credentials or Options.ProxyCredentials, and
// declines if the same credentials were already rejected.
func (p *Pool) AuthenticationRequired(_ *httpchan.Channel, m *message.Message, ch *httpchan.Challenge) bool {
	if ch.Proxy {
		return p.proxyCredentials(ch)
	}
	if p.opts.Credentials == nil || m == nil || !isBasic(ch) {
		return false
	}
	user, password, ok := p.opts.Credentials(ch)
	if !ok {
		return false
	}
	prev := m.Request.Header.Get("Authorization")
	m.Request.SetBasicAuth(user, password)
	return m.Request.Header.Get("Authorization") != prev
}

func (p *Pool) proxyCredentials(ch *httpchan.Challenge) bool {
	if p.opts.ProxyCredentials == nil || (ch.Scheme != "" && !isBasic(ch)) {
		return false
	}
	user, password, ok := p.opts.ProxyCredentials(ch)
	if !ok {
		return false
	}
	scratch := &message.Request{Header: make(map[string][]string)}
	scratch.SetProxyBasicAuth(user, password)
	v := scratch.Header.Get("Proxy-Authorization")
	if p.proxyAuth.Load().(string) == v {
		return false
	}
	p.proxyAuth.Store(v)
	return true
}

func (p *Pool) proxyAuthorization() string {
	return p.proxyAuth.Load().(string)
}

// TLSErrors implements httpchan.Pool.
func (p *Pool) TLSErrors(c *httpchan.Channel, errs []error) bool {
	if p.opts.TLSErrors == nil {
		return false
	}
	ignore := p.opts.TLSErrors(errs)
	if ignore {
		p.logger.Warn("ignoring TLS errors", zap.Uint64("channel", c.ID()), zap.Errors("errors", errs))
	}
	return ignore
}

// ProtocolNegotiated implements httpchan.Pool. Once a channel speaks
// HTTP/2, all further messages go to it until it reconnects with
// HTTP/1.1. After an ALPN fallback, new channels no longer offer
// HTTP/2.
func (p *Pool) ProtocolNegotiated(c *httpchan.Channel, pr proto.Protocol, fellBack bool) {
	if fellBack && !p.noH2 {
		p.logger.Info("server does not negotiate HTTP/2, no longer offering it")
		p.noH2 = true
	}
	switch {
	case pr == proto.HTTP2 && p.h2 == nil:
		p.logger.Debug("routing all messages to HTTP/2 channel", zap.Uint64("channel", c.ID()))
		p.h2 = c
	case pr != proto.HTTP2 && p.h2 == c:
		p.logger.Debug("HTTP/2 channel reconnected with HTTP/1.1", zap.Uint64("channel", c.ID()))
		p.h2 = nil
	}
	p.loop.Post(p.schedule)
}

// schedule moves messages from the pool queue onto channels for as
// long as some channel can take them.
func (p *Pool) schedule() {
	if p.scheduling {
		p.rescan = true
		return
	}
	p.scheduling = true
	var flush []*httpchan.Channel
	for {
		p.rescan = false
		for {
			m := p.pop()
			if m == nil {
				break
			}
			c, pipelined := p.place(m)
			if c == nil {
				p.pushFront(m)
				break
			}
			if pipelined && !containsChannel(flush, c) {
				flush = append(flush, c)
			}
		}
		if !p.rescan {
			break
		}
	}
	p.scheduling = false
	for _, c := range flush {
		c.PipelineFlush()
	}
}

// place hands m to a channel. It returns nil if every channel is busy
// and none can pipeline m.
func (p *Pool) place(m *message.Message) (c *httpchan.Channel, pipelined bool) {
	if p.h2 != nil {
		p.enqueue(p.h2, m)
		return p.h2, false
	}
	for _, c = range p.channels {
		if c.InFlight() == 0 && c.Queued() == 0 {
			p.enqueue(c, m)
			return c, false
		}
	}
	if len(p.channels) < p.opts.Channels {
		c = p.newChannel()
		p.enqueue(c, m)
		return c, false
	}
	for _, c = range p.channels {
		if c.CanPipeline(m) {
			c.PipelineInto(m)
			return c, true
		}
	}
	return nil, false
}

func (p *Pool) enqueue(c *httpchan.Channel, m *message.Message) {
	c.Enqueue(m)
	c.EnsureConnected()
}

func (p *Pool) pop() *message.Message {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	m := p.queue[0]
	p.queue = p.queue[1:]
	return m
}

func (p *Pool) pushFront(m *message.Message) {
	p.lock.Lock()
	defer p.lock.Unlock()
	m.SetLocation(message.OuterQueue)
	p.queue = append([]*message.Message{m}, p.queue...)
}

// abort cancels m wherever it is.
func (p *Pool) abort(m *message.Message) {
	if m.Ended() {
		return
	}
	p.lock.Lock()
	queued := false
	for i := range p.queue {
		if p.queue[i] == m {
			p.queue = append(p.queue[:i:i], p.queue[i+1:]...)
			queued = true
			break
		}
	}
	p.lock.Unlock()
	if queued {
		m.Fail(message.NewError(message.Cancelled, "message aborted", nil))
		return
	}
	for _, c := range p.channels {
		c.AbortMessage(m)
	}
}

func (p *Pool) newChannel() *httpchan.Channel {
	typ := p.opts.Type
	if p.noH2 && typ == httpchan.HTTP2 {
		typ = httpchan.HTTP1
	}
	c := httpchan.New(httpchan.Config{
		Host:     p.opts.Host,
		Port:     p.opts.Port,
		TLS:      p.opts.TLS,
		Type:     typ,
		Pool:     p,
		Loop:     p.loop,
		Dial:     p.dialer(typ),
		Attempts: p.opts.Attempts,
		Retry:    p.opts.Retry,
		Timeout:  p.opts.Timeout,
		Pipeline: p.opts.Pipeline,
		Handlers: p.opts.Handlers,
		Logger:   p.logger,
	})
	p.channels = append(p.channels, c)
	p.logger.Debug("channel created", zap.Uint64("channel", c.ID()), zap.Stringer("type", typ))
	return c
}

func (p *Pool) dialer(typ httpchan.ConnectionType) httpchan.Dialer {
	if p.opts.Dial != nil {
		return p.opts.Dial
	}
	o := transport.Options{
		Proxy:              p.opts.Proxy,
		ProxyAuthorization: p.proxyAuthorization,
	}
	if p.opts.TLS {
		cfg := &tls.Config{}
		if p.opts.TLSConfig != nil {
			cfg = p.opts.TLSConfig.Clone()
		}
		cfg.NextProtos = nextProtos(typ)
		o.TLS = cfg
	}
	return transport.NewDialer(o)
}

func nextProtos(typ httpchan.ConnectionType) []string {
	switch typ {
	case httpchan.HTTP2:
		return []string{proto.ALPNHTTP2, proto.ALPNHTTP1}
	case httpchan.HTTP2Direct:
		return []string{proto.ALPNHTTP2}
	default:
		return []string{proto.ALPNHTTP1}
	}
}

func isBasic(ch *httpchan.Challenge) bool {
	return strings.EqualFold(ch.Scheme, "Basic")
}

func containsChannel(cs []*httpchan.Channel, c *httpchan.Channel) bool {
	for i := range cs {
		if cs[i] == c {
			return true
		}
	}
	return false
}
