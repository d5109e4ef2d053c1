// Package ccid generates client_context_id values stamped on query,
// analytics, search, and view requests so server-side logs and the
// client's own request tracing can be correlated.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package ccid

import (
	"math/rand"
	"sync/atomic"

	"github.com/teris-io/shortid"
)

// alphabet mirrors shortid's default shape but avoids characters that need
// escaping when embedded in a URL query string.
const alphabet = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	gen  *shortid.Shortid
	seq  uint32
)

// Init seeds the generator; calling it again with a fixed seed gives
// reproducible ids in tests. Nothing in this module calls Init, so until a
// caller does, New returns counter-based fallback ids.
func Init(seed uint64) {
	gen = shortid.MustNew(1, alphabet, seed)
}

// New returns a fresh client_context_id. Falls back to a counter-based id
// if Init was never called, rather than panicking mid-request.
func New() string {
	if gen == nil {
		return fallback()
	}
	return gen.MustGenerate()
}

func fallback() string {
	n := atomic.AddUint32(&seq, 1)
	return "ccid-" + itoa(n) + "-" + itoa(uint32(rand.Int31()))
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
