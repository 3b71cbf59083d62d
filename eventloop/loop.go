// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package eventloop

import (
	"sync"
	"time"
)

// A Loop runs posted functions sequentially.
//
// Post and AfterFunc are safe for concurrent use by multiple
// goroutines. Functions posted from within a running function run after
// it returns, never re-entrantly.
type Loop interface {
	// Post schedules f to run on the loop.
	Post(f func())
	// AfterFunc schedules f to run on the loop once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// A Timer is a function scheduled by AfterFunc.
type Timer interface {
	// Stop prevents the timer function from running. It returns false
	// if the function already ran or was already posted to the loop.
	Stop() bool
}

// A Runner is a Loop backed by a dedicated goroutine.
type Runner struct {
	lock    sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	done    chan struct{}
}

// NewRunner starts a Runner.
func NewRunner() *Runner {
	r := &Runner{done: make(chan struct{})}
	r.cond = sync.NewCond(&r.lock)
	go r.run()
	return r
}

// Post schedules f to run on the loop goroutine. Functions posted after
// Stop are dropped.
func (r *Runner) Post(f func()) {
	if f == nil {
		panic("httpchan/eventloop: nil func")
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.stopped {
		return
	}
	r.queue = append(r.queue, f)
	r.cond.Signal()
}

// AfterFunc schedules f to be posted once d has elapsed.
func (r *Runner) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() { r.Post(f) })
}

// Do posts f and waits until it ran. It must not be called from the
// loop goroutine.
func (r *Runner) Do(f func()) {
	ran := make(chan struct{})
	r.Post(func() {
		defer close(ran)
		f()
	})
	select {
	case <-ran:
	case <-r.done:
	}
}

// Stop ends the loop once the functions already posted have run.
func (r *Runner) Stop() {
	r.lock.Lock()
	r.stopped = true
	r.cond.Signal()
	r.lock.Unlock()
	<-r.done
}

func (r *Runner) run() {
	defer close(r.done)
	for {
		r.lock.Lock()
		for len(r.queue) == 0 && !r.stopped {
			r.cond.Wait()
		}
		if len(r.queue) == 0 {
			r.lock.Unlock()
			return
		}
		batch := r.queue
		r.queue = nil
		r.lock.Unlock()
		for _, f := range batch {
			f()
		}
	}
}
