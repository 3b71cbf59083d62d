// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	urlpkg "net/url"
	"strings"
	"time"

	"github.com/gogama/httpchan"
	"github.com/gogama/httpchan/pipeline"
	"github.com/gogama/httpchan/pool"
	"github.com/gogama/httpchan/retry"
	"github.com/gogama/httpchan/timeout"
	"go.uber.org/zap"
)

// ParseType parses a connection type name: http1, http2 or
// http2-direct. Case is ignored.
func ParseType(s string) (httpchan.ConnectionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "http1", "http/1.1":
		return httpchan.HTTP1, nil
	case "", "http2", "h2":
		return httpchan.HTTP2, nil
	case "http2-direct", "h2-direct", "h2c-direct":
		return httpchan.HTTP2Direct, nil
	}
	return 0, fmt.Errorf("invalid server.type: %q", s)
}

// RetryPolicy builds the reconnect policy.
func (c *Config) RetryPolicy() retry.Policy {
	if c.Retry.BackoffBase <= 0 {
		return retry.DefaultPolicy
	}
	var jitter interface{}
	if c.Retry.Jitter {
		jitter = time.Now()
	}
	return retry.NewPolicy(retry.DefaultDecider, retry.NewExpWaiter(c.Retry.BackoffBase, c.Retry.BackoffMax, jitter))
}

// TimeoutPolicy builds the connect and write timeout policy.
func (c *Config) TimeoutPolicy() timeout.Policy {
	if len(c.Timeout.After) == 0 {
		return timeout.Fixed(c.Timeout.Usual)
	}
	return timeout.Adaptive(c.Timeout.Usual, c.Timeout.After...)
}

// PipelinePolicy builds the HTTP/1.1 pipelining policy.
func (c *Config) PipelinePolicy() pipeline.Policy {
	if !c.Pipeline.Enable {
		return pipeline.Disabled
	}
	deny := pipeline.DefaultBrokenServers
	if len(c.Pipeline.DenyServers) > 0 {
		deny = make([]pipeline.Signature, len(c.Pipeline.DenyServers))
		for i, s := range c.Pipeline.DenyServers {
			deny[i] = pipeline.Contains(s)
		}
	}
	return pipeline.NewPolicy(pipeline.NewDenyList(deny...), pipeline.Depth(c.Pipeline.Depth).And(pipeline.Eligible))
}

// PoolOptions converts the configuration into pool options. The server
// host must be set.
func (c *Config) PoolOptions(logger *zap.Logger) (pool.Options, error) {
	if c.Server.Host == "" {
		return pool.Options{}, errors.New("server.host is required")
	}
	typ, err := ParseType(c.Server.Type)
	if err != nil {
		return pool.Options{}, err
	}
	opts := pool.Options{
		Host:         c.Server.Host,
		Port:         c.Server.Port,
		TLS:          c.Server.TLS,
		Type:         typ,
		Channels:     c.Pool.Channels,
		MaxRedirects: c.Pool.MaxRedirects,
		Attempts:     c.Retry.Attempts,
		Retry:        c.RetryPolicy(),
		Timeout:      c.TimeoutPolicy(),
		Pipeline:     c.PipelinePolicy(),
		Logger:       logger,
	}
	if opts.Attempts <= 0 {
		opts.Attempts = -1
	}
	if c.Server.Proxy != "" {
		if opts.Proxy, err = urlpkg.Parse(c.Server.Proxy); err != nil {
			return pool.Options{}, fmt.Errorf("invalid server.proxy: %w", err)
		}
	}
	if c.Server.TLS {
		opts.TLSConfig = &tls.Config{ServerName: c.Server.Host}
	}
	if c.Server.InsecureSkipVerify {
		opts.TLSErrors = func([]error) bool { return true }
	}
	return opts, nil
}
