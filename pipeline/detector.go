// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"strings"

	"github.com/gogama/httpchan/message"
)

// A Detector examines a complete response and decides the channel's
// pipelining Estimate. Channels consult the Detector after every
// HTTP/1.1 response.
type Detector interface {
	Detect(s *message.Sink) Estimate
}

// A Signature matches Server banners of a server family.
type Signature struct {
	// Pattern is the text to look for.
	Pattern string
	// Prefix requires the banner to start with Pattern. Otherwise
	// Pattern may appear anywhere in the banner.
	Prefix bool
}

// Contains returns a Signature matching banners containing s.
func Contains(s string) Signature {
	return Signature{Pattern: s}
}

// HasPrefix returns a Signature matching banners starting with s.
func HasPrefix(s string) Signature {
	return Signature{Pattern: s, Prefix: true}
}

// Match reports whether the server banner matches the signature.
func (sig Signature) Match(server string) bool {
	if sig.Prefix {
		return strings.HasPrefix(server, sig.Pattern)
	}
	return strings.Contains(server, sig.Pattern)
}

// DefaultBrokenServers lists server families known to mishandle
// pipelined requests.
var DefaultBrokenServers = []Signature{
	Contains("Microsoft-IIS/4."),
	Contains("Microsoft-IIS/5."),
	Contains("Netscape-Enterprise/3."),
	Contains("WebLogic"),
	HasPrefix("Rocket"),
}

// NewDenyList constructs a Detector which decides ProbablySupported for
// HTTP/1.1 responses whose Server banner matches none of signatures,
// Unknown for HTTP/1.1 responses asking to close the connection, and
// Unsupported for everything else.
func NewDenyList(signatures ...Signature) Detector {
	d := make(denyList, len(signatures))
	copy(d, signatures)
	return d
}

type denyList []Signature

func (d denyList) Detect(s *message.Sink) Estimate {
	if s.ProtoMajor != 1 || s.ProtoMinor != 1 {
		return Unsupported
	}
	if s.ConnectionClose() {
		return Unknown
	}
	server := s.Server()
	for _, sig := range d {
		if sig.Match(server) {
			return Unsupported
		}
	}
	return ProbablySupported
}
