// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gogama/httpchan/message"
)

// redirect returns the request to send next after a response, or nil
// if the response is final. Redirects leading to another server are
// not followed.
func (p *Pool) redirect(req *message.Request, sink *message.Sink, hops int) (*message.Request, error) {
	if p.opts.MaxRedirects < 0 || !sink.IsRedirect() || sink.RedirectURL == nil {
		return nil, nil
	}
	u := sink.RedirectURL
	if !p.sameServer(u.Scheme, u.Host) {
		p.logger.Debug("not following redirect to another server")
		return nil, nil
	}
	if hops >= p.opts.MaxRedirects {
		return nil, message.NewError(message.ProtocolError,
			fmt.Sprintf("stopped after %d redirects", p.opts.MaxRedirects), nil)
	}

	next := *req
	next.URL = u
	next.Host = u.Host
	next.Header = req.Header.Clone()
	switch sink.StatusCode {
	case 301, 302, 303:
		// 301 and 302 are historically treated like 303 for POST.
		if sink.StatusCode == 303 || req.MethodName() == "POST" {
			if next.MethodName() != "HEAD" {
				next.Method = "GET"
			}
			next.Body = nil
			next.GetBody = nil
			next.ContentLength = 0
			next.Header.Del("Content-Type")
			next.Header.Del("Content-Length")
		}
	case 307, 308:
		if err := next.ResetBody(); err != nil {
			return nil, message.NewError(message.ContentResendFailed, "cannot replay body to follow redirect", err)
		}
	default:
		return nil, nil
	}
	return &next, nil
}

func (p *Pool) sameServer(scheme, hostport string) bool {
	want := "http"
	if p.opts.TLS {
		want = "https"
	}
	if !strings.EqualFold(scheme, want) {
		return false
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = hostport, ""
	}
	if port == "" {
		port = "80"
		if p.opts.TLS {
			port = "443"
		}
	}
	return strings.EqualFold(host, p.opts.Host) && port == strconv.Itoa(p.opts.Port)
}
