// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package pipeline

import "github.com/gogama/httpchan/message"

// An Estimate is a channel's belief about whether its peer supports
// HTTP/1.1 pipelining.
type Estimate int

const (
	// Unknown means no complete HTTP/1.x response has been examined
	// yet.
	Unknown Estimate = iota
	// ProbablySupported means the peer answered with HTTP/1.1 and is
	// not known to be broken.
	ProbablySupported
	// Unsupported means the channel must not pipeline.
	Unsupported
)

var estimateNames = []string{"Unknown", "ProbablySupported", "Unsupported"}

func (e Estimate) String() string {
	if e < 0 || int(e) >= len(estimateNames) {
		return "Estimate(?)"
	}
	return estimateNames[e]
}

// A Policy decides both whether a peer supports pipelining and whether
// a particular message may be pipelined onto a channel.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	Detector
	Admitter
}

// DefaultDepth is the maximum number of messages DefaultPolicy admits
// into a channel's pipeline buffer.
const DefaultDepth = 3

// DefaultPolicy denies DefaultBrokenServers and admits Eligible
// messages while fewer than DefaultDepth are pipelined.
var DefaultPolicy = NewPolicy(NewDenyList(DefaultBrokenServers...), Depth(DefaultDepth).And(Eligible))

// Disabled is a policy which never pipelines.
var Disabled Policy = disabled{}

type policy struct {
	detector Detector
	admitter Admitter
}

// NewPolicy composes a Detector and an Admitter into a Policy.
func NewPolicy(d Detector, a Admitter) Policy {
	if d == nil {
		panic("httpchan/pipeline: nil detector")
	}
	if a == nil {
		panic("httpchan/pipeline: nil admitter")
	}
	return policy{detector: d, admitter: a}
}

func (p policy) Detect(s *message.Sink) Estimate {
	return p.detector.Detect(s)
}

func (p policy) Admit(m *message.Message, depth int) bool {
	return p.admitter.Admit(m, depth)
}

type disabled struct{}

func (_ disabled) Detect(_ *message.Sink) Estimate {
	return Unsupported
}

func (_ disabled) Admit(_ *message.Message, _ int) bool {
	return false
}
