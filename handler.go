// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import "github.com/gogama/httpchan/message"

// A HandlerGroup is a group of event handler chains which can be
// installed in a Channel.
type HandlerGroup struct {
	handlers [][]Handler
}

// PushBack adds an event handler to the back of the event handler chain
// for a specific event type.
func (g *HandlerGroup) PushBack(evt Event, h Handler) {
	if h == nil {
		panic("httpchan: nil handler")
	}

	if g.handlers == nil {
		g.handlers = make([][]Handler, numEvents)
	}

	g.handlers[evt] = append(g.handlers[evt], h)
}

func (g *HandlerGroup) run(evt Event, c *Channel, m *message.Message) {
	if g == nil {
		return
	}
	i := int(evt)
	if i < len(g.handlers) {
		run(g.handlers[i], evt, c, m)
	}
}

func run(chain []Handler, evt Event, c *Channel, m *message.Message) {
	for _, h := range chain {
		h.Handle(evt, c, m)
	}
}

// A Handler handles the occurrence of an event on a channel. Parameter
// m is the message concerned, or nil for connection-level events.
type Handler interface {
	Handle(evt Event, c *Channel, m *message.Message)
}

// The HandlerFunc type is an adapter to allow the use of ordinary
// functions as event handlers.
type HandlerFunc func(Event, *Channel, *message.Message)

// Handle calls f(evt, c, m).
func (f HandlerFunc) Handle(evt Event, c *Channel, m *message.Message) {
	f(evt, c, m)
}
