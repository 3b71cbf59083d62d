// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package eventloop

import (
	"sort"
	"sync"
	"time"
)

// A Manual is a Loop which runs posted functions only when Run or
// Advance is called, on the calling goroutine. Its timers follow a
// virtual clock which only moves forward in Advance.
//
// The zero value is ready to use.
type Manual struct {
	lock   sync.Mutex
	queue  []func()
	now    time.Duration
	timers []*manualTimer
	seq    int
}

type manualTimer struct {
	m    *Manual
	at   time.Duration
	seq  int
	f    func()
	done bool
}

// Post queues f.
func (m *Manual) Post(f func()) {
	if f == nil {
		panic("httpchan/eventloop: nil func")
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.queue = append(m.queue, f)
}

// AfterFunc registers f to be posted once the virtual clock has
// advanced by d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now + d, seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.m.lock.Lock()
	defer t.m.lock.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Run runs queued functions, including functions they post, until the
// queue is empty. It returns the number of functions run.
func (m *Manual) Run() int {
	n := 0
	for {
		m.lock.Lock()
		if len(m.queue) == 0 {
			m.lock.Unlock()
			return n
		}
		f := m.queue[0]
		m.queue = m.queue[1:]
		m.lock.Unlock()
		f()
		n++
	}
}

// Pending returns the number of queued functions.
func (m *Manual) Pending() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.queue)
}

// Timers returns the number of armed timers.
func (m *Manual) Timers() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves the virtual clock forward by d, posting the functions
// of expired timers in expiry order, and then calls Run.
func (m *Manual) Advance(d time.Duration) int {
	m.lock.Lock()
	m.now += d
	var due []*manualTimer
	live := m.timers[:0]
	for _, t := range m.timers {
		switch {
		case t.done:
		case t.at <= m.now:
			t.done = true
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	m.timers = live
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	for _, t := range due {
		m.queue = append(m.queue, t.f)
	}
	m.lock.Unlock()
	return m.Run()
}
