// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package h2 implements the HTTP/2 protocol handler on top of the
// golang.org/x/net/http2 Framer and hpack codecs.
//
// The handler is fed raw bytes from the transport and only hands a
// buffered frame to the Framer once the whole frame has arrived, so it
// never blocks. Request streams beyond the server's
// SETTINGS_MAX_CONCURRENT_STREAMS wait in a queue, and request bodies
// respect both the connection and the stream send windows.
package h2
