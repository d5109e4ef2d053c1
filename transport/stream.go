// Package transport implements the uniform async byte-stream contract of
// spec.md §4.2 over plain TCP and TLS: the socket, a per-stream strand
// serialising every callback, and graceful handshake/close.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/internal/strand"
	"github.com/richardsmedley/cbcore/internal/xlog"
)

const logComponent = "transport"

// ConnectHandler is invoked exactly once when async_connect completes, on
// the stream's strand.
type ConnectHandler func(err error)

// WriteHandler is invoked exactly once when async_write completes, on the
// stream's strand, with the number of bytes written.
type WriteHandler func(n int, err error)

// ReadHandler is invoked exactly once when async_read_some completes, on
// the stream's strand, with the number of bytes read (at least one on
// success).
type ReadHandler func(n int, err error)

// Options configures socket tuning applied after connect, per spec.md §4.2.
type Options struct {
	TCPNoDelay     bool
	TCPKeepAlive   bool
	KeepAlivePeriod time.Duration
}

// TLSConfig carries the TLS parameters for a couchbases:// connection.
type TLSConfig struct {
	Enabled          bool
	TrustCertificate []byte // PEM; nil means use the system root pool
	ServerName       string
	InsecureSkipVerify bool
}

// Stream is one TCP or TLS connection to a node, with every callback
// serialised onto a private strand so user code never observes overlapping
// handlers on the same stream (spec.md §4.2, §5).
type Stream struct {
	strand *strand.Strand

	mu     sync.Mutex
	conn   net.Conn
	opts   Options
	closed bool
}

// New creates an unconnected Stream. queueDepth bounds how many pending
// callbacks may be posted to its strand before Post blocks the caller.
func New(queueDepth int) *Stream {
	return &Stream{strand: strand.New(queueDepth)}
}

// IsOpen reports whether the underlying socket is connected and not yet
// closed.
func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !s.closed
}

// SetOptions enables TCP_NODELAY and keepalive per opts; must be called
// after a successful AsyncConnect.
func (s *Stream) SetOptions(opts Options) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	s.opts = opts
	if conn == nil {
		return nil
	}
	return applySockOpts(conn, opts)
}

// AsyncConnect establishes TCP to endpoint and, when tlsCfg.Enabled, also
// performs the client TLS handshake before invoking h. Cancellation via ctx
// completes h with a request_canceled error and never calls h twice.
func (s *Stream) AsyncConnect(ctx context.Context, endpoint string, tlsCfg TLSConfig, h ConnectHandler) {
	go func() {
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, "tcp", endpoint)
		if err != nil {
			s.strand.Post(func() { h(wrapConnErr(ctx, err)) })
			return
		}
		if tlsCfg.Enabled {
			tc, terr := buildTLSConfig(tlsCfg)
			if terr != nil {
				conn.Close()
				s.strand.Post(func() { h(terr) })
				return
			}
			tlsConn := tls.Client(conn, tc)
			if herr := tlsConn.HandshakeContext(ctx); herr != nil {
				tlsConn.Close()
				s.strand.Post(func() { h(wrapConnErr(ctx, herr)) })
				return
			}
			conn = tlsConn
		}
		s.mu.Lock()
		s.conn = conn
		s.closed = false
		s.mu.Unlock()
		if err := applySockOpts(conn, s.opts); err != nil {
			xlog.Warningf(logComponent, "socket options: %v", err)
		}
		s.strand.Post(func() { h(nil) })
	}()
}

func wrapConnErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return cberr.Wrap(cberr.ErrRequestCanceled, "connect aborted", err)
	}
	return cberr.Wrap(cberr.ErrServiceNotAvailable, "connect failed", err)
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tc := &tls.Config{ServerName: cfg.ServerName, InsecureSkipVerify: cfg.InsecureSkipVerify}
	if len(cfg.TrustCertificate) > 0 {
		pool, err := certPoolFromPEM(cfg.TrustCertificate)
		if err != nil {
			return nil, cberr.Wrap(cberr.ErrInvalidArgument, "trust_certificate", err)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// AsyncWrite writes all of buf atomically (retrying short writes
// internally) and invokes h with the total bytes written.
func (s *Stream) AsyncWrite(buf []byte, h WriteHandler) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.strand.Post(func() { h(0, cberr.New(cberr.ErrServiceNotAvailable, "not connected")) })
		return
	}
	go func() {
		n, err := writeFull(conn, buf)
		s.strand.Post(func() {
			if err != nil {
				h(n, cberr.Wrap(cberr.ErrServiceNotAvailable, "write failed", err))
				return
			}
			h(n, nil)
		})
	}()
}

func writeFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// AsyncReadSome reads into buf and invokes h with the number of bytes read
// (at least one on success).
func (s *Stream) AsyncReadSome(buf []byte, h ReadHandler) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.strand.Post(func() { h(0, cberr.New(cberr.ErrServiceNotAvailable, "not connected")) })
		return
	}
	go func() {
		n, err := conn.Read(buf)
		s.strand.Post(func() {
			if err != nil {
				h(n, cberr.Wrap(cberr.ErrServiceNotAvailable, "read failed", err))
				return
			}
			h(n, nil)
		})
	}()
}

// Close shuts down the socket and stops the stream's strand. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	s.strand.Close()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
