// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package pool provides a connection pool for a single HTTP server, built
on connection channels from package httpchan.

A Pool owns a small set of channels, a FIFO queue of messages waiting
for a channel, and the event loop the channels run on. Its Do method
sends a request and blocks until the response arrived, the request
failed, or the context was cancelled:

	p := pool.New(pool.Options{
		Host: "example.com",
		Port: 443,
		TLS:  true,
		Type: httpchan.HTTP2,
	})
	defer p.Close()
	req, err := message.NewRequest("GET", "https://example.com/", nil)
	if err != nil {
		return err
	}
	m, err := p.Do(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(m.Sink.StatusCode, len(m.Sink.Body()))

For simple use cases, the Get, Head, Post and PostForm functions may
prove easier to use than Do.

The pool follows redirects to the same server, supplies credentials
when the server or proxy asks for authentication, pipelines HTTP/1.1
requests onto busy channels when the server supports it, and sends
everything over a single channel once HTTP/2 has been negotiated.
*/
package pool
