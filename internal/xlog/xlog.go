// Package xlog is a small leveled logger in the shape of aistore's vendored
// 3rdparty/glog: per-component verbosity, Infof/Warningf/Errorf, and a V(n)
// gate for chatty diagnostics (session negotiation steps, retry traces).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package xlog

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
)

// Level is a verbosity gate, analogous to glog.Level.
type Level int32

var (
	std      = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	mu       sync.Mutex
	verbosity int32
)

// SetV sets the global verbosity threshold v; V(n) logging is a no-op for
// every n greater than v.
func SetV(v Level) { atomic.StoreInt32(&verbosity, int32(v)) }

type verbose bool

// V reports whether logging at level lvl is enabled.
func V(lvl Level) verbose {
	return verbose(int32(lvl) <= atomic.LoadInt32(&verbosity))
}

func (v verbose) Infof(component, format string, args ...interface{}) {
	if v {
		Infof(component, format, args...)
	}
}

func output(level, component, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	std.Output(3, fmt.Sprintf("%s [%s] %s", level, component, fmt.Sprintf(format, args...)))
}

func Infof(component, format string, args ...interface{})    { output("I", component, format, args...) }
func Warningf(component, format string, args ...interface{}) { output("W", component, format, args...) }
func Errorf(component, format string, args ...interface{})   { output("E", component, format, args...) }
