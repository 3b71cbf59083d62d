// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command hchan fetches URLs from one server through a connection pool
// and prints the responses.
//
// Usage:
//
//	hchan [flags] URL...
//
// All URLs must address the same server. Requests are sent
// concurrently, and responses are printed in the order of the URLs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	urlpkg "net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gogama/httpchan/config"
	"github.com/gogama/httpchan/message"
	"github.com/gogama/httpchan/pool"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type headers []string

func (h *headers) String() string     { return strings.Join(*h, ", ") }
func (h *headers) Set(v string) error { *h = append(*h, v); return nil }

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hchan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "configuration file")
		method     = fs.String("X", "GET", "request method")
		data       = fs.String("d", "", "request body")
		include    = fs.Bool("i", false, "print response headers")
		typ        = fs.String("type", "", "connection type: http1, http2 or http2-direct")
		channels   = fs.Int("channels", 0, "maximum number of connections")
		insecure   = fs.Bool("k", false, "ignore TLS certificate errors")
		verbose    = fs.Bool("v", false, "log at debug level")
		hdrs       headers
	)
	fs.Var(&hdrs, "H", "request header `name: value` (repeatable)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: hchan [flags] URL...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "hchan:", err)
		return 1
	}
	if err = applyFlags(cfg, fs.Args()[0], *typ, *channels, *insecure, *verbose); err != nil {
		fmt.Fprintln(stderr, "hchan:", err)
		return 2
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(stderr, "hchan:", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	opts, err := cfg.PoolOptions(logger)
	if err != nil {
		fmt.Fprintln(stderr, "hchan:", err)
		return 1
	}
	p := pool.New(opts)
	defer p.Close()

	reqs := make([]*message.Request, fs.NArg())
	for i, u := range fs.Args() {
		if reqs[i], err = newRequest(*method, u, *data, hdrs); err != nil {
			fmt.Fprintln(stderr, "hchan:", err)
			return 2
		}
		if reqs[i].URL.Host != reqs[0].URL.Host {
			fmt.Fprintln(stderr, "hchan: all URLs must address the same server")
			return 2
		}
	}

	results := make([]result, len(reqs))
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i].m, results[i].err = p.Do(ctx, reqs[i])
		}(i)
	}
	wg.Wait()

	code := 0
	for i, r := range results {
		if r.err != nil {
			logger.Warn("request failed", zap.String("url", fs.Arg(i)), zap.Error(r.err))
			fmt.Fprintf(stderr, "hchan: %s: %v\n", fs.Arg(i), r.err)
			code = 1
			continue
		}
		printResponse(stdout, r.m.Sink, *include)
	}
	return code
}

type result struct {
	m   *message.Message
	err error
}

// applyFlags overrides the configuration with command line flags and
// fills in the server address from url if the configuration has none.
func applyFlags(cfg *config.Config, url, typ string, channels int, insecure, verbose bool) error {
	u, err := urlpkg.Parse(url)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
	case "https":
		cfg.Server.TLS = true
	default:
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = u.Hostname()
		if port := u.Port(); port != "" {
			if cfg.Server.Port, err = strconv.Atoi(port); err != nil {
				return fmt.Errorf("invalid port in %s", url)
			}
		}
	}
	if typ != "" {
		cfg.Server.Type = typ
	}
	if channels > 0 {
		cfg.Pool.Channels = channels
	}
	if insecure {
		cfg.Server.InsecureSkipVerify = true
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg.Validate()
}

func newRequest(method, url, data string, hdrs headers) (*message.Request, error) {
	var body interface{}
	if data != "" {
		body = data
	}
	req, err := message.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	for _, h := range hdrs {
		i := strings.IndexByte(h, ':')
		if i <= 0 {
			return nil, errors.New("malformed header " + strconv.Quote(h))
		}
		req.Header.Add(strings.TrimSpace(h[:i]), strings.TrimSpace(h[i+1:]))
	}
	return req, nil
}

func printResponse(w io.Writer, s *message.Sink, include bool) {
	if include {
		proto := "HTTP/" + strconv.Itoa(s.ProtoMajor) + "." + strconv.Itoa(s.ProtoMinor)
		if s.HTTP2 {
			proto = "HTTP/2"
		}
		fmt.Fprintf(w, "%s %d\n", proto, s.StatusCode)
		names := make([]string, 0, len(s.Header))
		for name := range s.Header {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, v := range s.Header[name] {
				fmt.Fprintf(w, "%s: %s\n", name, v)
			}
		}
		fmt.Fprintln(w)
	}
	_, _ = w.Write(s.Body())
}
