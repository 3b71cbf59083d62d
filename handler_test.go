// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import (
	"fmt"
	"testing"

	"github.com/gogama/httpchan/message"
	"github.com/stretchr/testify/assert"
)

func TestHandlerGroup(t *testing.T) {
	var evts []string
	var msgs []*message.Message
	h1 := &testHandler{seq: 1, evts: &evts, msgs: &msgs}
	h2 := &testHandler{seq: 2, evts: &evts, msgs: &msgs}
	g := &HandlerGroup{}
	t.Run("PushBack", func(t *testing.T) {
		assert.Panics(t, func() { g.PushBack(BeforeConnect, nil) })
		assert.Panics(t, func() { g.PushBack(Event(123), h1) })
		g.PushBack(BeforeSend, h1)
		g.PushBack(BeforeSend, h2)
		g.PushBack(AfterFailure, h1)
	})
	t.Run("run", func(t *testing.T) {
		m1 := &message.Message{}
		m2 := &message.Message{}
		g.run(AfterClose, nil, m1)
		assert.Empty(t, evts)
		g.run(BeforeSend, nil, m1)
		assert.Equal(t, []string{"1.BeforeSend", "2.BeforeSend"}, evts)
		assert.Equal(t, []*message.Message{m1, m1}, msgs)
		evts = evts[:0]
		msgs = msgs[:0]
		g.run(AfterFailure, nil, m2)
		assert.Equal(t, []string{"1.AfterFailure"}, evts)
		assert.Equal(t, []*message.Message{m2}, msgs)
	})
	t.Run("nil group", func(t *testing.T) {
		var nilGroup *HandlerGroup
		assert.NotPanics(t, func() { nilGroup.run(BeforeSend, nil, nil) })
	})
}

type testHandler struct {
	seq  int
	evts *[]string
	msgs *[]*message.Message
}

func (h *testHandler) Handle(evt Event, _ *Channel, m *message.Message) {
	*h.evts = append(*h.evts, fmt.Sprintf("%d.%s", h.seq, evt))
	*h.msgs = append(*h.msgs, m)
}

func TestHandlerFunc(t *testing.T) {
	var _evt Event
	var _m *message.Message
	var f = func(evt Event, _ *Channel, m *message.Message) {
		_evt = evt
		_m = m
	}
	h := HandlerFunc(f)
	m := &message.Message{}
	h.Handle(AfterResponse, nil, m)

	assert.Equal(t, AfterResponse, _evt)
	assert.Same(t, m, _m)
}
