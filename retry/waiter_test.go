// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewFixedWaiter(t *testing.T) {
	w := NewFixedWaiter(3 * time.Millisecond)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 3*time.Millisecond, w.Wait(&Failure{Attempt: i}))
	}
	assert.Equal(t, time.Duration(0), Immediate.Wait(&Failure{Attempt: 10}))
}

func TestNewExpWaiter(t *testing.T) {
	base, max := 1*time.Millisecond, 1*time.Hour
	t.Run("invalid base", func(t *testing.T) {
		assert.PanicsWithValue(t, "httpchan/retry: base must be positive", func() {
			NewExpWaiter(time.Duration(-1), max, nil)
		}, "negative base")
		assert.Panics(t, func() {
			NewExpWaiter(time.Duration(0), max, nil)
		}, "zero base")
	})
	t.Run("invalid max", func(t *testing.T) {
		assert.PanicsWithValue(t, "httpchan/retry: max must be at least base", func() {
			NewExpWaiter(time.Duration(2), time.Duration(1), nil)
		})
	})
	t.Run("invalid jitter", func(t *testing.T) {
		assert.Panics(t, func() {
			NewExpWaiter(base, max, float64(1))
		}, "float64")
		var nilRand *rand.Rand
		assert.Panics(t, func() {
			NewExpWaiter(base, max, nilRand)
		}, "nil *rand.Rand")
	})
	t.Run("no jitter", func(t *testing.T) {
		j := newJitterExpWaiter(t, base, max, nil, "explicit nil")
		assert.Nil(t, j.rand, "explicit nil")
		for i := 0; i < 10; i++ {
			ceil := 1 << i
			assert.Equal(t, time.Duration(ceil)*time.Millisecond, j.Wait(&Failure{Attempt: i}))
		}
		assert.Equal(t, max, j.Wait(&Failure{Attempt: 25}))
		assert.Equal(t, max, j.Wait(&Failure{Attempt: 1000}))
	})
	t.Run("with jitter", func(t *testing.T) {
		jitters := []struct {
			name  string
			value interface{}
		}{
			{"zero time.Time", time.Time{}},
			{"time.Now()", time.Now()},
			{"int", 1},
			{"int64", int64(1)},
			{"rand.Source", rand.NewSource(0)},
			{"*rand.Rand", rand.New(rand.NewSource(0))},
		}
		for i, jitter := range jitters {
			t.Run(fmt.Sprintf("jitters[%d]=%s", i, jitter.name), func(t *testing.T) {
				w := NewExpWaiter(base, max, jitter.value)
				for j := 0; j < 100; j++ {
					d := w.Wait(&Failure{Attempt: j})
					assert.GreaterOrEqual(t, d, time.Duration(0))
					assert.LessOrEqual(t, d, max)
				}
			})
		}
	})
	t.Run("concurrent use", func(t *testing.T) {
		w := NewExpWaiter(base, max, 0)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					d := w.Wait(&Failure{Attempt: j})
					assert.GreaterOrEqual(t, d, time.Duration(0))
					assert.LessOrEqual(t, d, (1<<j)*time.Millisecond)
				}
			}()
		}
		wg.Wait()
	})
}

func newJitterExpWaiter(t *testing.T, base, max time.Duration, jitter interface{}, message string) *jitterExpWaiter {
	j := NewExpWaiter(base, max, jitter)
	assert.IsType(t, &jitterExpWaiter{}, j, message)
	return j.(*jitterExpWaiter)
}
