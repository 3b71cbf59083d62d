// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package transport provides network transports for httpchan channels.

TCP is a plaintext connection, optionally tunnelled through an HTTP
CONNECT proxy or opened on a Unix domain socket. TLS adds a TLS
handshake with ALPN on top of TCP. Both run their network I/O on
background goroutines which only emit signals; every decision is left
to the channel consuming the signals.

Use NewDialer to plug a transport into a channel:

	cfg := httpchan.Config{
		Host: "example.com",
		Port: 443,
		TLS:  true,
		Dial: transport.NewDialer(transport.Options{
			TLS: &tls.Config{NextProtos: []string{"h2", "http/1.1"}},
		}),
	}
*/
package transport
