// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package message

import (
	"fmt"
	"sync/atomic"
)

// A Location identifies where a message currently lives.
type Location int

const (
	// Unassigned is the location of a newly created message.
	Unassigned Location = iota
	// OuterQueue is the pool-wide queue shared by all channels.
	OuterQueue
	// ChannelQueue is a channel's local queue of enqueued messages
	// which have not been dispatched yet.
	ChannelQueue
	// InFlight is a channel's single in-flight slot (HTTP/1.1).
	InFlight
	// Pipeline is a channel's buffer of already sent but unanswered
	// pipelined requests.
	Pipeline
	// Stream is an HTTP/2 stream, open or waiting to be opened.
	Stream
	// Done means the message received its terminal notification.
	Done
)

var locationNames = []string{
	"Unassigned",
	"OuterQueue",
	"ChannelQueue",
	"InFlight",
	"Pipeline",
	"Stream",
	"Done",
}

func (l Location) String() string {
	if l < 0 || int(l) >= len(locationNames) {
		return fmt.Sprintf("Location(%d)", int(l))
	}
	return locationNames[l]
}

var nextID uint64

// A Message pairs a Request with the Sink that receives its response.
//
// Apart from Done, Err and ID, the methods of Message are not safe for
// concurrent use: a message is only ever manipulated on the event loop
// of the pool or channel currently holding it.
type Message struct {
	// Request is the request to send. It is never nil.
	Request *Request
	// Sink receives the response. It is never nil.
	Sink *Sink

	id       uint64
	location Location
	err      error
	done     chan struct{}
	onDone   []func(*Message)
}

// New creates a message for req with an empty Sink.
func New(req *Request) *Message {
	if req == nil {
		panic("httpchan/message: nil request")
	}
	return &Message{
		Request: req,
		Sink:    &Sink{},
		id:      atomic.AddUint64(&nextID, 1),
		done:    make(chan struct{}),
	}
}

// ID returns a process-unique message identifier, handy for logging.
func (m *Message) ID() uint64 {
	return m.id
}

// Location returns where the message currently lives.
func (m *Message) Location() Location {
	return m.location
}

// SetLocation moves the message. Moving a message out of Done panics,
// since a terminal notification can never be undone.
func (m *Message) SetLocation(l Location) {
	if m.location == Done && l != Done {
		panic("httpchan/message: message already done")
	}
	m.location = l
}

// Ended reports whether the message received its terminal notification.
func (m *Message) Ended() bool {
	return m.location == Done
}

// OnDone registers f to be called once, synchronously, when the
// message receives its terminal notification. If the message already
// ended f is called immediately.
func (m *Message) OnDone(f func(*Message)) {
	if m.Ended() {
		f(m)
		return
	}
	m.onDone = append(m.onDone, f)
}

// Finish ends the message successfully. It returns false, and does
// nothing, if the message already ended.
func (m *Message) Finish() bool {
	return m.end(nil)
}

// Fail ends the message with err. It returns false, and does nothing,
// if the message already ended.
func (m *Message) Fail(err *Error) bool {
	if err == nil {
		panic("httpchan/message: nil error")
	}
	return m.end(err)
}

func (m *Message) end(err error) bool {
	if m.Ended() {
		return false
	}
	m.location = Done
	m.err = err
	fs := m.onDone
	m.onDone = nil
	close(m.done)
	for _, f := range fs {
		f(m)
	}
	return true
}

// Done returns a channel which is closed when the message ends.
func (m *Message) Done() <-chan struct{} {
	return m.done
}

// Err returns the terminal error, or nil if the message finished
// successfully or has not ended yet. Read it from another goroutine
// only after Done is closed.
func (m *Message) Err() error {
	return m.err
}

func (m *Message) String() string {
	return fmt.Sprintf("#%d %s %s", m.id, m.Request.MethodName(), m.Request.Target())
}
