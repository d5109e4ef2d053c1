//go:build !debug

/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

func assert(cond bool, msg string)                          {}
func assertf(cond bool, format string, args ...interface{}) {}
func assertNoErr(err error)                                 {}
