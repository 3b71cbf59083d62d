// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	urlpkg "net/url"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gogama/httpchan"
	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/transient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	ch chan httpchan.Signal
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan httpchan.Signal, 256)}
}

func (r *recorder) emit(s httpchan.Signal) {
	r.ch <- s
}

// await returns the first signal of the given kind, failing the test
// if another terminal signal arrives first.
func (r *recorder) await(t *testing.T, kind httpchan.SignalKind) httpchan.Signal {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s.Kind == kind {
				return s
			}
			switch s.Kind {
			case httpchan.Error, httpchan.Disconnected, httpchan.HandshakeError, httpchan.ProxyAuthRequired:
				require.FailNow(t, "unexpected signal", "waiting for %s, got %s", kind, s)
			}
		case <-timeout:
			require.FailNow(t, "timed out", "waiting for %s", kind)
		}
	}
}

// readAll collects received bytes until want bytes arrived.
func (r *recorder) readAll(t *testing.T, tr httpchan.Transport, want int) string {
	t.Helper()
	var b strings.Builder
	for b.Len() < want {
		r.await(t, httpchan.ReadyRead)
		b.Write(tr.Read())
	}
	return b.String()
}

func (r *recorder) quiet(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.ch:
		assert.Fail(t, "unexpected signal", "%s", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func echoServer(t *testing.T, network, address string) net.Listener {
	l, err := net.Listen(network, address)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	return l
}

func portOf(t *testing.T, addr net.Addr) int {
	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	return tcp.Port
}

func TestNewDialer(t *testing.T) {
	r := newRecorder()
	assert.IsType(t, &TCP{}, NewDialer(Options{})(r.emit))
	tr := NewDialer(Options{TLS: &tls.Config{}})(r.emit)
	assert.IsType(t, &TLS{}, tr)
	assert.Implements(t, (*httpchan.TLSTransport)(nil), tr)
	assert.PanicsWithValue(t, "httpchan/transport: nil emit", func() { NewTCP(nil, Options{}) })
}

func TestTCP(t *testing.T) {
	t.Run("echo", func(t *testing.T) {
		l := echoServer(t, "tcp", "127.0.0.1:0")
		r := newRecorder()
		tr := NewTCP(r.emit, Options{})
		assert.Equal(t, httpchan.TransportUnconnected, tr.State())
		tr.Connect("127.0.0.1", portOf(t, l.Addr()))
		r.await(t, httpchan.Connected)
		assert.Equal(t, httpchan.TransportEstablished, tr.State())

		tr.Write([]byte("hello, "))
		tr.Write([]byte("world"))
		assert.Equal(t, "hello, world", r.readAll(t, tr, 12))
		assert.Equal(t, 0, tr.Buffered())

		tr.Close()
		r.await(t, httpchan.Disconnected)
		assert.Equal(t, httpchan.TransportUnconnected, tr.State())
		tr.Write([]byte("ignored"))
	})
	t.Run("peer close", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer l.Close()
		go func() {
			conn, err := l.Accept()
			if err == nil {
				_, _ = conn.Write([]byte("bye"))
				_ = conn.Close()
			}
		}()
		r := newRecorder()
		tr := NewTCP(r.emit, Options{})
		tr.Connect("127.0.0.1", portOf(t, l.Addr()))
		r.await(t, httpchan.Connected)
		r.await(t, httpchan.ReadyRead)
		r.await(t, httpchan.Disconnected)
		assert.Equal(t, "bye", string(tr.Read()))
	})
	t.Run("refused", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := portOf(t, l.Addr())
		require.NoError(t, l.Close())
		r := newRecorder()
		tr := NewTCP(r.emit, Options{})
		tr.Connect("127.0.0.1", port)
		s := r.await(t, httpchan.Error)
		assert.Equal(t, message.ConnectionRefused, transient.Kind(s.Err))
	})
	t.Run("abort", func(t *testing.T) {
		l := echoServer(t, "tcp", "127.0.0.1:0")
		r := newRecorder()
		tr := NewTCP(r.emit, Options{})
		tr.Connect("127.0.0.1", portOf(t, l.Addr()))
		r.await(t, httpchan.Connected)
		tr.Abort()
		tr.Abort()
		assert.Equal(t, httpchan.TransportUnconnected, tr.State())
		tr.Write([]byte("dropped"))
		r.quiet(t)
	})
	t.Run("close while connecting", func(t *testing.T) {
		r := newRecorder()
		tr := NewTCP(r.emit, Options{Address: "192.0.2.1:9"})
		tr.Connect("example.com", 80)
		tr.Close()
		tr.Close()
		tr.Abort()
		r.quiet(t)
	})
}

func TestUnixSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no unix sockets")
	}
	path := filepath.Join(t.TempDir(), "echo.sock")
	echoServer(t, "unix", path)
	r := newRecorder()
	tr := NewTCP(r.emit, Options{Network: "unix", Address: path})
	tr.Connect("localhost", 80)
	r.await(t, httpchan.Connected)
	tr.Write([]byte("ping"))
	assert.Equal(t, "ping", r.readAll(t, tr, 4))
	tr.Close()
	r.await(t, httpchan.Disconnected)
}

func tlsServer(t *testing.T) (*httptest.Server, *x509.CertPool) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Proto)
	}))
	srv.EnableHTTP2 = true
	srv.TLS = &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	return srv, pool
}

func TestTLS(t *testing.T) {
	srv, pool := tlsServer(t)
	port := portOf(t, srv.Listener.Addr())

	t.Run("ALPN h2", func(t *testing.T) {
		r := newRecorder()
		tr := NewTLS(r.emit, Options{TLS: &tls.Config{RootCAs: pool, NextProtos: []string{"h2", "http/1.1"}}})
		tr.StartHandshake()
		tr.Connect("127.0.0.1", port)
		r.await(t, httpchan.Connected)
		_, ok := tr.NegotiatedProtocol()
		assert.False(t, ok)
		tr.StartHandshake()
		r.await(t, httpchan.HandshakeComplete)
		proto, ok := tr.NegotiatedProtocol()
		assert.True(t, ok)
		assert.Equal(t, "h2", proto)
		tr.Abort()
	})
	t.Run("HTTP/1.1 exchange", func(t *testing.T) {
		r := newRecorder()
		tr := NewTLS(r.emit, Options{TLS: &tls.Config{RootCAs: pool, NextProtos: []string{"http/1.1"}}})
		tr.Connect("127.0.0.1", port)
		r.await(t, httpchan.Connected)
		tr.StartHandshake()
		r.await(t, httpchan.HandshakeComplete)
		proto, ok := tr.NegotiatedProtocol()
		assert.True(t, ok)
		assert.Equal(t, "http/1.1", proto)

		tr.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
		var b strings.Builder
		for {
			s := <-r.ch
			if s.Kind == httpchan.ReadyRead {
				b.Write(tr.Read())
			}
			if s.Kind == httpchan.Disconnected || s.Kind == httpchan.Error {
				break
			}
		}
		b.Write(tr.Read())
		resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(b.String())), nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "HTTP/1.1", string(body))
	})
	t.Run("untrusted ignored", func(t *testing.T) {
		r := newRecorder()
		tr := NewTLS(r.emit, Options{TLS: &tls.Config{RootCAs: x509.NewCertPool()}})
		tr.Connect("127.0.0.1", port)
		r.await(t, httpchan.Connected)
		tr.StartHandshake()
		s := r.await(t, httpchan.TLSErrors)
		require.Len(t, s.Errs, 1)
		var certErr *tls.CertificateVerificationError
		assert.True(t, errors.As(s.Errs[0], &certErr))
		assert.Equal(t, message.TLSHandshakeFailed, transient.Kind(s.Errs[0]))
		tr.IgnoreTLSErrors()
		r.await(t, httpchan.HandshakeComplete)
		_, ok := tr.NegotiatedProtocol()
		assert.False(t, ok)
		tr.Close()
		r.await(t, httpchan.Disconnected)
	})
	t.Run("untrusted aborted", func(t *testing.T) {
		r := newRecorder()
		tr := NewTLS(r.emit, Options{TLS: &tls.Config{RootCAs: x509.NewCertPool()}})
		tr.Connect("127.0.0.1", port)
		r.await(t, httpchan.Connected)
		tr.StartHandshake()
		r.await(t, httpchan.TLSErrors)
		tr.Abort()
		r.quiet(t)
	})
	t.Run("handshake error", func(t *testing.T) {
		l := echoServer(t, "tcp", "127.0.0.1:0")
		r := newRecorder()
		tr := NewTLS(r.emit, Options{TLS: &tls.Config{RootCAs: pool}})
		tr.Connect("127.0.0.1", portOf(t, l.Addr()))
		r.await(t, httpchan.Connected)
		tr.StartHandshake()
		s := r.await(t, httpchan.HandshakeError)
		assert.Error(t, s.Err)
	})
}

// connectProxy is an HTTP CONNECT proxy which demands Basic
// credentials and echoes tunnelled bytes.
func connectProxy(t *testing.T) *urlpkg.URL {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				req, err := http.ReadRequest(bufio.NewReader(conn))
				if err != nil {
					return
				}
				if req.Method != http.MethodConnect || req.Header.Get("Proxy-Authorization") == "" {
					_, _ = io.WriteString(conn, "HTTP/1.1 407 Proxy Authentication Required\r\n"+
						"Proxy-Authenticate: Basic realm=\"corp\", charset=\"UTF-8\"\r\n"+
						"Content-Length: 0\r\n\r\n")
					return
				}
				_, _ = io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	return &urlpkg.URL{Scheme: "http", Host: l.Addr().String()}
}

func TestProxy(t *testing.T) {
	proxy := connectProxy(t)
	t.Run("auth required", func(t *testing.T) {
		r := newRecorder()
		tr := NewTCP(r.emit, Options{Proxy: proxy})
		tr.Connect("example.com", 443)
		s := r.await(t, httpchan.ProxyAuthRequired)
		require.NotNil(t, s.Challenge)
		assert.True(t, s.Challenge.Proxy)
		assert.Equal(t, "Basic", s.Challenge.Scheme)
		assert.Equal(t, "corp", s.Challenge.Realm)
		assert.Equal(t, message.ProxyAuthRequired, transient.Kind(s.Err))
	})
	t.Run("tunnel", func(t *testing.T) {
		r := newRecorder()
		tr := NewTCP(r.emit, Options{
			Proxy:              proxy,
			ProxyAuthorization: func() string { return "Basic dXNlcjpwYXNz" },
		})
		tr.Connect("example.com", 443)
		r.await(t, httpchan.Connected)
		tr.Write([]byte("through"))
		assert.Equal(t, "through", r.readAll(t, tr, 7))
		tr.Close()
		r.await(t, httpchan.Disconnected)
	})
}

func TestProxyAddress(t *testing.T) {
	assert.Equal(t, "p:80", proxyAddress(&urlpkg.URL{Scheme: "http", Host: "p"}))
	assert.Equal(t, "p:443", proxyAddress(&urlpkg.URL{Scheme: "https", Host: "p"}))
	assert.Equal(t, "p:3128", proxyAddress(&urlpkg.URL{Scheme: "http", Host: "p:3128"}))
}
