// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	urlpkg "net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gogama/httpchan"
	"github.com/gogama/httpchan/message"
)

// DefaultReadSize is the read buffer size used when Options.ReadSize
// is zero.
const DefaultReadSize = 32 << 10

// Options configure a transport.
type Options struct {
	// Dialer dials the network connection. Nil means a zero Dialer
	// with TCP keep-alives enabled.
	Dialer *net.Dialer

	// Network is the dial network. Empty means "tcp".
	Network string

	// Address overrides the dial address, for example the path of a
	// Unix domain socket. Empty means host:port from Connect.
	Address string

	// Proxy is the URL of an HTTP proxy to tunnel through with the
	// CONNECT method, or nil to connect directly.
	Proxy *urlpkg.URL

	// ProxyAuthorization, if not nil, returns the Proxy-Authorization
	// header value to send with the CONNECT request. It is called once
	// per connection attempt so fresh credentials take effect on the
	// next attempt.
	ProxyAuthorization func() string

	// TLS is the TLS client configuration. A non-nil value makes
	// NewDialer create TLS transports.
	TLS *tls.Config

	// ReadSize is the read buffer size. Zero means DefaultReadSize.
	ReadSize int
}

// NewDialer returns a dialer creating TLS transports when opts.TLS is
// set, and TCP transports otherwise.
func NewDialer(opts Options) httpchan.Dialer {
	if opts.TLS != nil {
		return func(emit func(httpchan.Signal)) httpchan.Transport {
			return NewTLS(emit, opts)
		}
	}
	return func(emit func(httpchan.Signal)) httpchan.Transport {
		return NewTCP(emit, opts)
	}
}

// A TCP is a plaintext transport.
type TCP struct {
	opts Options
	emit func(httpchan.Signal)

	// established runs after the connection is set up. It is TCP's
	// start of I/O, or TLS's wait for StartHandshake.
	established func(conn net.Conn)

	lock     sync.Mutex
	cond     *sync.Cond
	state    httpchan.TransportState
	conn     net.Conn
	cancel   context.CancelFunc
	rbuf     bytes.Buffer
	wq       [][]byte
	shutdown bool
	aborted  bool
	closed   chan struct{}
	stop     chan struct{}
	ended    sync.Once
}

// NewTCP returns an unconnected plaintext transport which reports its
// signals through emit.
func NewTCP(emit func(httpchan.Signal), opts Options) *TCP {
	if emit == nil {
		panic("httpchan/transport: nil emit")
	}
	t := &TCP{
		opts:   opts,
		emit:   emit,
		closed: make(chan struct{}),
		stop:   make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.lock)
	t.established = func(conn net.Conn) {
		t.emit(httpchan.Signal{Kind: httpchan.Connected})
		t.start(conn)
	}
	return t
}

// Connect starts dialing host and port in the background.
func (t *TCP) Connect(host string, port int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.state != httpchan.TransportUnconnected || t.aborted {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.state = httpchan.TransportConnecting
	t.cancel = cancel
	go t.dial(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
}

func (t *TCP) dial(ctx context.Context, target string) {
	conn, err := t.dialConn(ctx, target)
	if err != nil {
		t.end(err)
		return
	}
	t.lock.Lock()
	if t.aborted {
		t.lock.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.state = httpchan.TransportEstablished
	t.lock.Unlock()
	t.established(conn)
}

func (t *TCP) dialConn(ctx context.Context, target string) (net.Conn, error) {
	d := t.opts.Dialer
	if d == nil {
		d = &net.Dialer{KeepAlive: 30 * time.Second}
	}
	network := t.opts.Network
	if network == "" {
		network = "tcp"
	}
	if t.opts.Proxy != nil {
		return t.tunnel(ctx, d, network, target)
	}
	address := t.opts.Address
	if address == "" {
		address = target
	}
	return d.DialContext(ctx, network, address)
}

// start launches the read and write goroutines on conn.
func (t *TCP) start(conn net.Conn) {
	go t.readLoop(conn)
	go t.writeLoop(conn)
}

func (t *TCP) readLoop(conn net.Conn) {
	size := t.opts.ReadSize
	if size <= 0 {
		size = DefaultReadSize
	}
	buf := make([]byte, size)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			t.lock.Lock()
			t.rbuf.Write(buf[:n])
			t.lock.Unlock()
			t.emit(httpchan.Signal{Kind: httpchan.ReadyRead, N: n})
		}
		if err != nil {
			t.end(err)
			return
		}
	}
}

func (t *TCP) writeLoop(conn net.Conn) {
	for {
		t.lock.Lock()
		for len(t.wq) == 0 && !t.shutdown && !t.aborted {
			t.cond.Wait()
		}
		if t.aborted || len(t.wq) == 0 {
			t.lock.Unlock()
			_ = conn.Close()
			return
		}
		p := t.wq[0]
		t.wq = t.wq[1:]
		t.lock.Unlock()

		n, err := conn.Write(p)
		if n > 0 {
			t.emit(httpchan.Signal{Kind: httpchan.BytesWritten, N: n})
		}
		if err != nil {
			_ = conn.Close()
			t.end(err)
			return
		}
	}
}

// end emits the final signal of the transport, once.
func (t *TCP) end(err error) {
	t.ended.Do(func() {
		t.lock.Lock()
		quiet := t.aborted
		closing := t.shutdown
		t.state = httpchan.TransportUnconnected
		t.lock.Unlock()
		close(t.closed)
		var authErr *ProxyAuthError
		switch {
		case quiet:
		case errors.As(err, &authErr):
			t.emit(httpchan.Signal{
				Kind:      httpchan.ProxyAuthRequired,
				Err:       message.NewError(message.ProxyAuthRequired, "proxy CONNECT", err),
				Challenge: authErr.Challenge,
			})
		case closing || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
			t.emit(httpchan.Signal{Kind: httpchan.Disconnected})
		default:
			t.emit(httpchan.Signal{Kind: httpchan.Error, Err: err})
		}
	})
}

// Write queues p. It does nothing once the transport is closing.
func (t *TCP) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.shutdown || t.aborted {
		return
	}
	t.wq = append(t.wq, append([]byte(nil), p...))
	t.cond.Signal()
}

// Read returns and removes the buffered received bytes.
func (t *TCP) Read() []byte {
	t.lock.Lock()
	defer t.lock.Unlock()
	b := append([]byte(nil), t.rbuf.Bytes()...)
	t.rbuf.Reset()
	return b
}

// Buffered returns the number of received bytes not yet Read.
func (t *TCP) Buffered() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.rbuf.Len()
}

// Close writes everything queued and then closes the connection.
// Disconnected is signalled when the connection is closed.
func (t *TCP) Close() {
	t.lock.Lock()
	defer t.lock.Unlock()
	switch t.state {
	case httpchan.TransportUnconnected:
		return
	case httpchan.TransportConnecting:
		if !t.aborted {
			t.aborted = true
			close(t.stop)
			t.cancel()
		}
		return
	}
	t.shutdown = true
	t.state = httpchan.TransportClosing
	t.cond.Broadcast()
}

// Abort closes the connection at once. No signal follows.
func (t *TCP) Abort() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.aborted {
		return
	}
	t.aborted = true
	close(t.stop)
	t.wq = nil
	if t.cancel != nil {
		t.cancel()
	}
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.state = httpchan.TransportUnconnected
	t.cond.Broadcast()
}

// State returns the connection state.
func (t *TCP) State() httpchan.TransportState {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.state
}

func (t *TCP) setConn(conn net.Conn) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.conn = conn
}
