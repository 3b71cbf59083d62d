// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h2

import (
	"bytes"
	"encoding/base64"

	"golang.org/x/net/http2"
)

const (
	// frameHeaderLen is the length of every HTTP/2 frame header.
	frameHeaderLen = 9

	defaultMaxFrameSize   = 16 << 10
	defaultInitialWindow  = 65535
	defaultMaxConcurrent  = 100
	maxWindow             = 1<<31 - 1
	transportStreamWindow = 1 << 20
	transportConnWindow   = 1 << 24
	maxStreamID           = 1<<31 - 1
)

// clientSettings are the settings the handler announces in its
// connection preface, and in the HTTP2-Settings upgrade header.
var clientSettings = []http2.Setting{
	{ID: http2.SettingEnablePush, Val: 0},
	{ID: http2.SettingInitialWindowSize, Val: transportStreamWindow},
	{ID: http2.SettingMaxHeaderListSize, Val: 10 << 20},
}

// UpgradeSettings returns the value of the HTTP2-Settings header sent
// with a cleartext upgrade request: the base64url encoded payload of
// the client SETTINGS frame.
func UpgradeSettings() string {
	var b bytes.Buffer
	fr := http2.NewFramer(&b, nil)
	if err := fr.WriteSettings(clientSettings...); err != nil {
		panic("httpchan/proto/h2: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b.Bytes()[frameHeaderLen:])
}
