// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvents(t *testing.T) {
	assert.Len(t, eventNames, numEvents)
	assert.Len(t, Events(), numEvents)
	for i, evt := range Events() {
		assert.Equal(t, Event(i), evt)
	}
}

func TestEvent_Name(t *testing.T) {
	assert.Equal(t, "BeforeConnect", BeforeConnect.Name())
	assert.Equal(t, "AfterConnect", AfterConnect.Name())
	assert.Equal(t, "BeforeSend", BeforeSend.Name())
	assert.Equal(t, "AfterResponse", AfterResponse.Name())
	assert.Equal(t, "BeforeResend", BeforeResend.Name())
	assert.Equal(t, "AfterProtocolSwitch", AfterProtocolSwitch.Name())
	assert.Equal(t, "AfterFailure", AfterFailure.Name())
	assert.Equal(t, "AfterClose", AfterClose.String())
}
