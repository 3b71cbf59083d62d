// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/gogama/httpchan/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDecider(t *testing.T) {
	get := newMessage(t, "GET")
	post := newMessage(t, "POST")

	t.Run("resendable kinds", func(t *testing.T) {
		for _, kind := range []message.ErrorKind{message.RemoteClosed, message.Timeout} {
			t.Run(kind.String(), func(t *testing.T) {
				for budget := DefaultAttempts; budget > 0; budget-- {
					f := Failure{Message: get, Kind: kind, Budget: budget}
					assert.True(t, DefaultDecider(&f), fmt.Sprintf("Expect true for budget %d", budget))
				}
				f := Failure{Message: get, Kind: kind}
				assert.False(t, DefaultDecider(&f), "Expect false for budget 0")
			})
		}
	})
	t.Run("other kinds", func(t *testing.T) {
		kinds := []message.ErrorKind{
			message.Unknown,
			message.HostUnreachable,
			message.ConnectionRefused,
			message.TLSHandshakeFailed,
			message.ProtocolError,
			message.Cancelled,
		}
		for _, kind := range kinds {
			f := Failure{Message: get, Kind: kind, Budget: DefaultAttempts}
			assert.False(t, DefaultDecider(&f), kind.String())
		}
	})
	t.Run("non-idempotent", func(t *testing.T) {
		f := Failure{Message: post, Kind: message.RemoteClosed, Budget: DefaultAttempts}
		assert.False(t, DefaultDecider(&f))
		post.Request.SetIdempotent(true)
		assert.True(t, DefaultDecider(&f))
	})
	t.Run("nothing in flight", func(t *testing.T) {
		f := Failure{Kind: message.RemoteClosed, Budget: 1}
		assert.True(t, DefaultDecider(&f))
	})
}

func TestDeciderFunc(t *testing.T) {
	var calls []string
	yes := DeciderFunc(func(_ *Failure) bool {
		calls = append(calls, "yes")
		return true
	})
	no := DeciderFunc(func(_ *Failure) bool {
		calls = append(calls, "no")
		return false
	})
	f := &Failure{}

	t.Run("And", func(t *testing.T) {
		calls = nil
		assert.False(t, no.And(yes).Decide(f))
		assert.Equal(t, []string{"no"}, calls)
		calls = nil
		assert.True(t, yes.And(yes).Decide(f))
		assert.Equal(t, []string{"yes", "yes"}, calls)
	})
	t.Run("Or", func(t *testing.T) {
		calls = nil
		assert.True(t, yes.Or(no).Decide(f))
		assert.Equal(t, []string{"yes"}, calls)
		calls = nil
		assert.False(t, no.Or(no).Decide(f))
		assert.Equal(t, []string{"no", "no"}, calls)
	})
}

func TestTimes(t *testing.T) {
	d := Times(2)
	assert.True(t, d(&Failure{Attempt: 0}))
	assert.True(t, d(&Failure{Attempt: 1}))
	assert.False(t, d(&Failure{Attempt: 2}))
	assert.False(t, Times(0)(&Failure{}))
}

func TestKinds(t *testing.T) {
	kinds := []message.ErrorKind{message.Timeout}
	d := Kinds(kinds...)
	kinds[0] = message.Unknown
	assert.True(t, d(&Failure{Kind: message.Timeout}))
	assert.False(t, d(&Failure{Kind: message.Unknown}))
	assert.False(t, Kinds()(&Failure{Kind: message.Timeout}))
}

func TestTransientErr(t *testing.T) {
	for _, err := range []error{io.EOF, syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ETIMEDOUT} {
		assert.True(t, TransientErr(&Failure{Err: err}), err.Error())
	}
	for _, err := range []error{nil, errors.New("foo"), syscall.ENOENT} {
		assert.False(t, TransientErr(&Failure{Err: err}), fmt.Sprint(err))
	}
}

func newMessage(t *testing.T, method string) *message.Message {
	r, err := message.NewRequest(method, "http://example.com/", nil)
	require.NoError(t, err)
	return message.New(r)
}
