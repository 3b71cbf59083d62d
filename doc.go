// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package httpchan provides the connection channel of an HTTP client
connection pool: a state machine owning one network connection which
connects it on demand, sends HTTP requests over it, receives their
responses, and recovers from transient failures without losing work.

Most programs should use package pool, which manages channels and
offers a blocking Do method. Use package httpchan directly to build a
custom pool.

Create a Channel with a Pool to notify, an event loop to run on, and a
Dialer creating transports:

	loop := eventloop.NewRunner()
	c := httpchan.New(httpchan.Config{
		Host: "example.com",
		Port: 443,
		TLS:  true,
		Type: httpchan.HTTP2,
		Pool: myPool,
		Loop: loop,
		Dial: transport.NewDialer(transport.Options{
			TLS: &tls.Config{NextProtos: []string{"h2", "http/1.1"}},
		}),
	})

Then, on the event loop, enqueue messages and make sure the channel is
connected:

	loop.Post(func() {
		c.Enqueue(message.New(req))
		c.EnsureConnected()
	})

Every message ends in exactly one of three ways: the channel finishes
it and calls Pool.MessageFinished, fails it and calls
Pool.MessageFailed, or hands it back with Pool.Requeue.

For control over reconnect decisions and timing, create a custom retry
policy using package retry:

	waiter := retry.NewExpWaiter(100*time.Millisecond, 2*time.Second, time.Now())
	cfg.Retry = retry.NewPolicy(retry.DefaultDecider, waiter)

For control over connect and write timeouts use package timeout, and
for HTTP/1.1 pipelining decisions use package pipeline:

	cfg.Timeout = timeout.Fixed(10 * time.Second)
	cfg.Pipeline = pipeline.Disabled

To observe or extend the channel, install a handler into the
appropriate handler chain:

	handlers := &httpchan.HandlerGroup{}
	handlers.PushBack(httpchan.BeforeSend, httpchan.HandlerFunc(
		func(_ httpchan.Event, _ *httpchan.Channel, m *message.Message) {
			m.Request.Header.Set("User-Agent", "httpchan")
		}))
	cfg.Handlers = handlers
*/
package httpchan
