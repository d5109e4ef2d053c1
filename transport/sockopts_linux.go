//go:build linux

/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// applySockOpts mirrors the per-OS split in the teacher's ios package
// (dutils_linux.go vs fsutils_darwin.go): Linux exposes a keepalive
// interval via setsockopt, which net.TCPConn.SetKeepAlivePeriod already
// wraps on this platform — kept here as an explicit raw-socket path so the
// stream can also tune TCP_USER_TIMEOUT, which the stdlib does not expose.
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
	if err := tc.SetKeepAlivePeriod(period); err != nil {
		return err
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(period/time.Millisecond))
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}
