// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transient classifies errors reported by a connection
// transport. Categorize buckets an error by transience, which is what
// reconnect decisions care about, and Kind maps the same error onto
// the message.ErrorKind taxonomy reported to callers.
package transient
