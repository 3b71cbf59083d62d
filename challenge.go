// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import (
	"net/http"
	"strings"

	"github.com/gogama/httpchan/message"
)

// A Challenge is an authentication challenge from a server or proxy.
type Challenge struct {
	// Proxy is true for a Proxy-Authenticate challenge (HTTP 407),
	// false for a WWW-Authenticate challenge (HTTP 401).
	Proxy bool
	// Scheme is the authentication scheme, for example "Basic".
	Scheme string
	// Realm is the value of the realm parameter, if any.
	Realm string
	// Header is the raw challenge header value.
	Header string
}

// ParseChallenge parses the first challenge of an authentication
// header value. It returns nil if value holds no challenge.
func ParseChallenge(value string, proxy bool) *Challenge {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	c := &Challenge{Proxy: proxy, Header: value}
	rest := value
	i := strings.IndexAny(rest, " \t,")
	if i < 0 {
		c.Scheme = rest
		return c
	}
	if c.Scheme, rest = rest[:i], strings.TrimSpace(rest[i:]); rest[0] == ',' {
		return c
	}
	for rest != "" {
		var param string
		param, rest = nextParam(rest)
		name, val, ok := strings.Cut(param, "=")
		if !ok {
			// Token68 or the next challenge's scheme.
			break
		}
		if strings.EqualFold(strings.TrimSpace(name), "realm") {
			c.Realm = unquote(strings.TrimSpace(val))
			break
		}
	}
	return c
}

// challengeOf returns the challenge carried by an authentication
// response, or nil.
func challengeOf(sink *message.Sink) *Challenge {
	switch sink.StatusCode {
	case http.StatusUnauthorized:
		return ParseChallenge(sink.Header.Get("WWW-Authenticate"), false)
	case http.StatusProxyAuthRequired:
		return ParseChallenge(sink.Header.Get("Proxy-Authenticate"), true)
	}
	return nil
}

// nextParam splits s at the first comma outside a quoted string.
func nextParam(s string) (param, rest string) {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
			}
		}
	}
	return strings.TrimSpace(s), ""
}

func unquote(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	var b strings.Builder
	s = s[1 : len(s)-1]
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
