// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"

	"github.com/gogama/httpchan"
)

// A TLS is an encrypted transport. Server certificates are verified
// against Options.TLS.RootCAs (or the system pool) unless
// InsecureSkipVerify is set. A failed verification suspends the
// handshake with a TLSErrors signal instead of failing it outright.
type TLS struct {
	*TCP

	config *tls.Config
	host   string

	handshakeOnce sync.Once
	decision      chan bool

	lock       sync.Mutex
	raw        net.Conn
	negotiated string
	done       bool
}

// NewTLS returns an unconnected TLS transport which reports its
// signals through emit. If opts.TLS is nil, a zero tls.Config is used.
func NewTLS(emit func(httpchan.Signal), opts Options) *TLS {
	t := &TLS{
		TCP:      NewTCP(emit, opts),
		config:   opts.TLS,
		decision: make(chan bool, 1),
	}
	if t.config == nil {
		t.config = &tls.Config{}
	}
	t.TCP.established = func(conn net.Conn) {
		t.lock.Lock()
		t.raw = conn
		t.lock.Unlock()
		t.emit(httpchan.Signal{Kind: httpchan.Connected})
	}
	return t
}

// Connect starts dialing host and port. The host also becomes the
// server name to verify, unless the TLS configuration names one.
func (t *TLS) Connect(host string, port int) {
	t.lock.Lock()
	t.host = host
	t.lock.Unlock()
	t.TCP.Connect(host, port)
}

// StartHandshake starts the TLS handshake on the connected transport.
// It does nothing before Connected or on a second call.
func (t *TLS) StartHandshake() {
	t.lock.Lock()
	raw := t.raw
	t.lock.Unlock()
	if raw == nil {
		return
	}
	t.handshakeOnce.Do(func() {
		go t.handshake(raw)
	})
}

func (t *TLS) handshake(raw net.Conn) {
	conn := tls.Client(raw, t.clientConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-t.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	err := conn.HandshakeContext(ctx)
	cancel()
	if err != nil {
		t.TCP.lock.Lock()
		quiet := t.aborted
		t.state = httpchan.TransportUnconnected
		t.TCP.lock.Unlock()
		_ = raw.Close()
		if !quiet {
			t.ended.Do(func() {
				close(t.closed)
				t.emit(httpchan.Signal{Kind: httpchan.HandshakeError, Err: err})
			})
		}
		return
	}
	t.lock.Lock()
	t.negotiated = conn.ConnectionState().NegotiatedProtocol
	t.done = true
	t.lock.Unlock()
	t.setConn(conn)
	t.emit(httpchan.Signal{Kind: httpchan.HandshakeComplete})
	t.start(conn)
}

func (t *TLS) clientConfig() *tls.Config {
	cfg := t.config.Clone()
	if cfg.ServerName == "" {
		t.lock.Lock()
		cfg.ServerName = t.host
		t.lock.Unlock()
	}
	if cfg.InsecureSkipVerify {
		return cfg
	}
	roots, serverName, next := cfg.RootCAs, cfg.ServerName, cfg.VerifyConnection
	cfg.InsecureSkipVerify = true
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		if errs := verify(cs, roots, serverName); len(errs) > 0 {
			t.emit(httpchan.Signal{Kind: httpchan.TLSErrors, Errs: errs})
			select {
			case ignore := <-t.decision:
				if !ignore {
					return errs[0]
				}
			case <-t.stop:
				return errs[0]
			}
		}
		if next != nil {
			return next(cs)
		}
		return nil
	}
	return cfg
}

// verify verifies the peer certificate chain the way crypto/tls does
// when InsecureSkipVerify is false, returning the verification errors.
func verify(cs tls.ConnectionState, roots *x509.CertPool, serverName string) []error {
	if len(cs.PeerCertificates) == 0 {
		return []error{errors.New("httpchan/transport: server presented no certificate")}
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		DNSName:       serverName,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
		return []error{&tls.CertificateVerificationError{
			UnverifiedCertificates: cs.PeerCertificates,
			Err:                    err,
		}}
	}
	return nil
}

// IgnoreTLSErrors resumes a handshake suspended by TLSErrors.
func (t *TLS) IgnoreTLSErrors() {
	select {
	case t.decision <- true:
	default:
	}
}

// NegotiatedProtocol returns the protocol chosen by ALPN. The result
// is false before the handshake completed or if the server did not
// pick a protocol.
func (t *TLS) NegotiatedProtocol() (string, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.negotiated, t.done && t.negotiated != ""
}

// Abort closes the connection at once, failing a suspended handshake.
func (t *TLS) Abort() {
	t.TCP.Abort()
	t.lock.Lock()
	raw := t.raw
	t.lock.Unlock()
	if raw != nil {
		_ = raw.Close()
	}
}
