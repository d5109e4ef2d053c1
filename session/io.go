/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package session

import (
	"time"

	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/internal/debug"
	"github.com/richardsmedley/cbcore/wire"
)

// readChunk is the per-read buffer size; the accumulator below handles
// frames that span multiple reads or pack multiple frames into one read.
const readChunk = 64 * 1024

func (s *Session) startReadLoop() {
	s.readMore()
}

func (s *Session) readMore() {
	buf := make([]byte, readChunk)
	// AsyncReadSome's handler runs on the stream's strand; repost onto
	// s.strand so recvBuf, the pending table, and session state are only
	// ever touched from the session's own strand (spec.md §5).
	s.stream.AsyncReadSome(buf, func(n int, err error) {
		s.strand.Post(func() {
			if err != nil {
				s.teardown(err)
				return
			}
			s.recvBuf = append(s.recvBuf, buf[:n]...)
			s.drainFrames()
			if s.stream.IsOpen() {
				s.readMore()
			}
		})
	})
}

// drainFrames extracts every complete frame currently buffered and
// dispatches it by opaque, leaving any partial trailing frame in recvBuf.
func (s *Session) drainFrames() {
	for {
		if len(s.recvBuf) < wire.HeaderLen {
			return
		}
		h, err := wire.DecodeHeader(s.recvBuf[:wire.HeaderLen])
		if err != nil {
			s.teardown(err)
			return
		}
		total := wire.HeaderLen + int(h.TotalBodyLen)
		if len(s.recvBuf) < total {
			return
		}
		raw := s.recvBuf[:total]
		s.recvBuf = s.recvBuf[total:]
		s.dispatch(h, raw)
	}
}

func (s *Session) dispatch(h wire.Header, raw []byte) {
	pc, ok := s.pending.take(h.Opaque)
	if !ok {
		// unsolicited frame (e.g. clustermap-change-notification push) —
		// best-effort config refresh, no completion to fire.
		if h.Opcode == wire.OpGetClusterConfig && s.sink != nil {
			if f, err := wire.DecodeBody(h, raw[wire.HeaderLen:]); err == nil {
				s.sink.OnClusterConfig(s.cfg.Endpoint, f.Value)
			}
		}
		return
	}
	s.rearmTimer()

	if h.Status() == wire.StatusNotMyVBucket {
		if f, err := wire.DecodeBody(h, raw[wire.HeaderLen:]); err == nil && len(f.Value) > 0 && s.sink != nil {
			s.sink.OnClusterConfig(s.cfg.Endpoint, wire.NotMyVBucketConfig(f.Value))
		}
		s.invalidateCollections()
		complete(pc, raw, cberr.New(cberr.ErrInternalServerFailure, "not_my_vbucket"))
		return
	}
	if h.Status() == wire.StatusUnknownCollection || h.Status() == wire.StatusNotMyCollection {
		s.invalidateCollections()
	}
	complete(pc, raw, nil)
}

// Submit writes an already-encoded frame and registers pc in the opaque
// table; only valid once State()==Ready (spec.md §3 invariant: "only the
// ready state admits user commands").
func (s *Session) Submit(pc *PendingCommand) {
	s.strand.Post(func() {
		if s.state != Ready {
			complete(pc, nil, cberr.New(cberr.ErrServiceNotAvailable, "session not ready: "+s.state.String()))
			return
		}
		s.pending.add(pc)
		s.rearmTimer()
		// Same repost discipline as readMore: AsyncWrite's handler runs on
		// the stream's strand, not s.strand.
		s.stream.AsyncWrite(pc.Frame, func(n int, err error) {
			s.strand.Post(func() {
				if err != nil {
					if taken, ok := s.pending.take(pc.Opaque); ok {
						complete(taken, nil, err)
					}
				}
			})
		})
	})
}

// NextOpaque hands out a fresh, session-local opaque for a new command.
func (s *Session) NextOpaque() uint32 { return s.nextOpaque() }

// Negotiated reports the HELLO feature set this session ended up with.
func (s *Session) Negotiated() wire.FeatureSet { return s.negotiated }

// ErrorMap returns the session's parsed error map, or nil if negotiation
// never completed.
func (s *Session) ErrorMap() *wire.ErrorMap { return s.errMap }

func (s *Session) rearmTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	deadline, ok := s.pending.nextDeadline()
	if !ok {
		s.timer = nil
		return
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	s.timer = time.AfterFunc(d, func() {
		s.strand.Post(s.expireTimeouts)
	})
}

func (s *Session) expireTimeouts() {
	due := s.pending.expireDue(time.Now())
	for _, pc := range due {
		complete(pc, nil, timeoutErr(pc))
	}
	s.rearmTimer()
}

// teardown moves the session to Stopped and drains every pending command
// with a not-connected error, per spec.md §3 invariant ("on session
// teardown every entry is drained").
func (s *Session) teardown(cause error) {
	if s.state == Stopped {
		return
	}
	s.setState(Stopped)
	if s.timer != nil {
		s.timer.Stop()
	}
	due := s.pending.drainAll()
	for _, pc := range due {
		complete(pc, nil, cberr.Wrap(cberr.ErrServiceNotAvailable, "session stopped", cause))
	}
}

// Close tears the session down from the outside (Bucket/Cluster shutdown).
func (s *Session) Close() {
	s.strand.Post(func() {
		s.teardown(cberr.New(cberr.ErrRequestCanceled, "closed"))
		_ = s.stream.Close()
	})
}

func (s *Session) invalidateCollections() {
	s.collCache = make(map[string]uint32)
}

// CollectionID returns a cached collection id for (scope, collection), or
// ok=false if it must be resolved with GET_COLLECTION_ID first. Cached ids
// are dropped when this session receives a NOT_MY_VBUCKET,
// UNKNOWN_COLLECTION or NOT_MY_COLLECTION reply; installing a newer
// ClusterConfig on the Bucket does not clear them.
func (s *Session) CollectionID(scope, collection string) (id uint32, ok bool) {
	result := make(chan struct {
		id uint32
		ok bool
	}, 1)
	s.strand.Post(func() {
		id, ok := s.collCache[scope+"\x00"+collection]
		result <- struct {
			id uint32
			ok bool
		}{id, ok}
	})
	r := <-result
	return r.id, r.ok
}

// CacheCollectionID records a resolved id for (scope, collection).
func (s *Session) CacheCollectionID(scope, collection string, id uint32) {
	s.strand.Post(func() {
		debug.Assertf(scope != "" && collection != "", "caching collection id for empty scope/collection %q/%q", scope, collection)
		s.collCache[scope+"\x00"+collection] = id
	})
}
