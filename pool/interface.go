// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"net/url"

	"github.com/gogama/httpchan/message"
)

// Doer is the interface that wraps the basic Do method.
//
// Do sends a request and returns the message holding the final
// response (and error, if any). Pool implements the Doer interface, and
// any other Doer implementation must behave substantially the same as
// Pool.Do.
type Doer interface {
	Do(ctx context.Context, req *message.Request) (*message.Message, error)
}

// Getter is the interface that wraps the basic Get method.
//
// Get issues a GET to the specified URL and returns the message holding
// the final response (and error, if any).
type Getter interface {
	Get(ctx context.Context, url string) (*message.Message, error)
}

// Header is the interface that wraps the basic Head method.
type Header interface {
	Head(ctx context.Context, url string) (*message.Message, error)
}

// Poster is the interface that wraps the basic Post method.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by message.NewRequest.
type Poster interface {
	Post(ctx context.Context, url, contentType string, body interface{}) (*message.Message, error)
}

// FormPoster is the interface that wraps the basic PostForm method.
type FormPoster interface {
	PostForm(ctx context.Context, url string, data url.Values) (*message.Message, error)
}

// IdleCloser is the interface that wraps the basic CloseIdleConnections
// method.
//
// CloseIdleConnections closes any connections which are sitting idle.
// It does not interrupt any connections currently in use.
type IdleCloser interface {
	CloseIdleConnections()
}

// Get uses the specified Doer to issue a GET to the specified URL,
// using the same policies as d.Do.
//
// To send a request with custom headers, use message.NewRequest and
// d.Do.
func Get(ctx context.Context, d Doer, url string) (*message.Message, error) {
	req, err := message.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	return d.Do(ctx, req)
}

// Head uses the specified Doer to issue a HEAD to the specified URL,
// using the same policies as d.Do.
func Head(ctx context.Context, d Doer, url string) (*message.Message, error) {
	req, err := message.NewRequest("HEAD", url, nil)
	if err != nil {
		return nil, err
	}
	return d.Do(ctx, req)
}

// Post uses the specified Doer to issue a POST to the specified URL,
// using the same policies as d.Do.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by message.NewRequest, namely: string; []byte; and
// io.Reader.
func Post(ctx context.Context, d Doer, url, contentType string, body interface{}) (*message.Message, error) {
	req, err := message.NewRequest("POST", url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return d.Do(ctx, req)
}

// PostForm uses the specified Doer to issue a POST to the specified URL,
// with data's keys and values URL-encoded as the request body.
//
// The Content-Type header is set to application/x-www-form-urlencoded.
func PostForm(ctx context.Context, d Doer, url string, data url.Values) (*message.Message, error) {
	return Post(ctx, d, url, "application/x-www-form-urlencoded", data.Encode())
}

// Executor is the interface that groups the basic Do, Get, Head, Post,
// PostForm, and CloseIdleConnections methods.
//
// Any Doer can be converted into an Executor via the Inflate function.
type Executor interface {
	Doer
	Getter
	Header
	Poster
	FormPoster
	IdleCloser
}

// Inflate converts any non-nil Doer into an Executor.
func Inflate(d Doer) Executor {
	if d == nil {
		panic("httpchan/pool: nil doer")
	}
	if e, ok := d.(Executor); ok {
		return e
	}
	return inflated{d}
}

type inflated struct {
	doer Doer
}

func (i inflated) Do(ctx context.Context, req *message.Request) (*message.Message, error) {
	return i.doer.Do(ctx, req)
}

func (i inflated) Get(ctx context.Context, url string) (*message.Message, error) {
	return Get(ctx, i.doer, url)
}

func (i inflated) Head(ctx context.Context, url string) (*message.Message, error) {
	return Head(ctx, i.doer, url)
}

func (i inflated) Post(ctx context.Context, url, contentType string, body interface{}) (*message.Message, error) {
	return Post(ctx, i.doer, url, contentType, body)
}

func (i inflated) PostForm(ctx context.Context, url string, data url.Values) (*message.Message, error) {
	return PostForm(ctx, i.doer, url, data)
}

func (i inflated) CloseIdleConnections() {
	if ic, ok := i.doer.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
}
