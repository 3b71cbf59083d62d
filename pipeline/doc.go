// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package pipeline provides policies deciding when a connection channel
may pipeline HTTP/1.1 requests, that is, send further requests before
the response to the in-flight request has arrived.

Pipelining is an optimization with a poor track record: a number of
legacy servers accept pipelined requests and then mangle or drop the
responses. For that reason a channel only pipelines after it has seen
evidence the server can cope. The main concepts are:

• Each channel keeps an Estimate of its peer's pipelining support. The
  estimate starts Unknown and is decided by the policy Detector on the
  first complete HTTP/1.x response. HTTP/1.0 responses and responses
  from servers whose Server banner matches a known broken signature
  decide Unsupported, responses asking to close the connection leave
  it Unknown, and other HTTP/1.1 responses decide ProbablySupported.
  Every new connection starts over at Unknown.

• Even with a ProbablySupported estimate, each candidate message must be
  admitted by the policy Admitter. The built-in Eligible admitter only
  admits bodiless GET and HEAD requests, and Depth bounds the number of
  requests already buffered in the pipeline.

• Responses are always matched to pipelined requests in the order the
  requests were written. When anything goes wrong with a pipelined
  batch, the whole unanswered batch goes back to the pool, in order,
  and the connection is closed.

The default policy, DefaultPolicy, denies the DefaultBrokenServers
signatures and admits Eligible messages up to DefaultDepth. Disabled
never pipelines. Use NewPolicy to compose any Detector with any
Admitter.
*/
package pipeline
