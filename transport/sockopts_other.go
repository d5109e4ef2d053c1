//go:build !linux

/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"net"
	"time"
)

// applySockOpts is the portable fallback for platforms without the Linux
// TCP_USER_TIMEOUT extension, matching the stdlib-only half of the
// teacher's per-OS ios split (fsutils_darwin.go has no Linux-only
// syscalls either).
func applySockOpts(conn net.Conn, opts Options) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(opts.TCPNoDelay); err != nil {
		return err
	}
	if !opts.TCPKeepAlive {
		return tc.SetKeepAlive(false)
	}
	if err := tc.SetKeepAlive(true); err != nil {
		return err
	}
	period := opts.KeepAlivePeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	return tc.SetKeepAlivePeriod(period)
}
