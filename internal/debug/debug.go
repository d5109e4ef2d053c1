// Package debug provides assertion helpers compiled in under the "debug"
// build tag, mirroring cmn/debug in the teacher.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

// Assert panics with msg if cond is false. Compiled to a no-op in
// debug_off.go for non-debug builds.
func Assert(cond bool, msg string) {
	assert(cond, msg)
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...interface{}) {
	assertf(cond, format, args...)
}

// AssertNoErr panics if err is non-nil. Used at points the code has already
// reasoned are unreachable in a correct build (e.g. a table lookup keyed by
// a value this same package just inserted).
func AssertNoErr(err error) {
	assertNoErr(err)
}
