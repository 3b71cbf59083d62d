// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	urlpkg "net/url"
	"time"

	"github.com/gogama/httpchan"
)

// ProxyAuthError is returned internally when the proxy answers the
// CONNECT request with 407. The transport reports it as a
// ProxyAuthRequired signal.
type ProxyAuthError struct {
	Challenge *httpchan.Challenge
}

func (err *ProxyAuthError) Error() string {
	if err.Challenge == nil {
		return "httpchan/transport: proxy authentication required"
	}
	return fmt.Sprintf("httpchan/transport: proxy authentication required (%s)", err.Challenge.Scheme)
}

// tunnel opens a connection to target through an HTTP CONNECT proxy.
func (t *TCP) tunnel(ctx context.Context, d *net.Dialer, network, target string) (net.Conn, error) {
	proxy := t.opts.Proxy
	address := t.opts.Address
	if address == "" {
		address = proxyAddress(proxy)
	}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &urlpkg.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if t.opts.ProxyAuthorization != nil {
		if v := t.opts.ProxyAuthorization(); v != "" {
			req.Header.Set("Proxy-Authorization", v)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err = req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusProxyAuthRequired:
		_ = conn.Close()
		return nil, &ProxyAuthError{
			Challenge: httpchan.ParseChallenge(resp.Header.Get("Proxy-Authenticate"), true),
		}
	case resp.StatusCode/100 != 2:
		_ = conn.Close()
		return nil, fmt.Errorf("httpchan/transport: proxy CONNECT failed: %s", resp.Status)
	case br.Buffered() > 0:
		_ = conn.Close()
		return nil, fmt.Errorf("httpchan/transport: proxy sent %d unexpected bytes after CONNECT", br.Buffered())
	}
	return conn, nil
}

func proxyAddress(u *urlpkg.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
