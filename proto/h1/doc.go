// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package h1 implements the HTTP/1.1 protocol handler.
//
// The handler writes requests as they are sent and parses responses
// incrementally: bytes may arrive in arbitrary pieces, and bytes
// following a complete response stay buffered for the next pipelined
// reply. A 101 response switching to h2c stops the parser and leaves
// the remaining bytes for the HTTP/2 handler.
package h1
