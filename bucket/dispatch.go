/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import (
	"context"
	"time"

	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/retry"
	"github.com/richardsmedley/cbcore/session"
	"github.com/richardsmedley/cbcore/wire"
)

// Encoder builds the wire frame for one attempt, given the partition and
// (if collections are in use) the resolved collection id. It is called
// again on every retry so it can pick up a fresh opaque and, after a
// NOT_MY_VBUCKET, a possibly different partition/collection-id pairing.
type Encoder func(partition uint16, collectionID uint32, opaque uint32) *wire.Frame

// Decoder turns a successful reply frame into a typed result, or an error
// if the response status itself indicates failure (e.g. KEY_ENOENT). Its
// error is inspected for a Reason via classify before Execute decides
// whether to retry.
type Decoder func(h wire.Header, f *wire.Frame) (interface{}, error)

// Execute runs one KV operation against id's owning partition, retrying
// topology and transient failures against the bucket's current snapshot
// per spec.md §4.4/§4.7 until it succeeds, exhausts its deadline, or hits
// a non-retryable error. opName labels the KVOpLatency/KVOpsTotal metrics
// recorded for the call as a whole, including any retries.
func (b *Bucket) Execute(ctx context.Context, opName string, id DocumentId, idem retry.Idempotence, deadline time.Time, enc Encoder, dec Decoder) (interface{}, error) {
	started := time.Now()
	result, err := b.execute(ctx, id, idem, deadline, enc, dec)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	b.cfg.Stats.KVOpLatency.WithLabelValues(opName, outcome).Observe(time.Since(started).Seconds())
	b.cfg.Stats.KVOpsTotal.WithLabelValues(opName, outcome).Inc()
	return result, err
}

func (b *Bucket) execute(ctx context.Context, id DocumentId, idem retry.Idempotence, deadline time.Time, enc Encoder, dec Decoder) (interface{}, error) {
	var trace retry.Trace
	var lastErr error
	for attempt := 0; ; attempt++ {
		snap := b.Snapshot()
		if snap == nil {
			lastErr = cberr.New(cberr.ErrServiceNotAvailable, "no cluster config")
			if d := b.orch.Decide(retry.ReasonNotReady, idem, attempt, deadline, lastErr); d.Retry {
				trace = append(trace, retry.ReasonNotReady)
				if !sleep(ctx, d.Delay) {
					return nil, cberr.Wrap(cberr.ErrRequestCanceled, "", ctx.Err())
				}
				continue
			}
			return nil, giveUp(lastErr, trace)
		}
		partition := PartitionOf(id.Key, snap.PartitionCount())
		sess := b.sessionForPartition(snap, partition)
		if sess == nil {
			lastErr = cberr.New(cberr.ErrServiceNotAvailable, "partition master has no live session")
			if d := b.orch.Decide(retry.ReasonNotReady, idem, attempt, deadline, lastErr); d.Retry {
				trace = append(trace, retry.ReasonNotReady)
				if !sleep(ctx, d.Delay) {
					return nil, cberr.Wrap(cberr.ErrRequestCanceled, "", ctx.Err())
				}
				continue
			}
			return nil, giveUp(lastErr, trace)
		}
		collectionID, haveID := uint32(0), true
		if snap.Caps.Collections && (id.Scope != "" || id.Collection != "") {
			collectionID, haveID = b.resolveCollectionID(ctx, sess, id)
			if !haveID {
				reason := retry.ReasonCollectionUnknown
				if d := b.orch.Decide(reason, idem, attempt, deadline, lastErr); d.Retry {
					trace = append(trace, reason)
					if !sleep(ctx, d.Delay) {
						return nil, cberr.Wrap(cberr.ErrRequestCanceled, "", ctx.Err())
					}
					continue
				}
				return nil, giveUp(lastErr, trace)
			}
		}

		result, err := b.roundTrip(ctx, sess, partition, collectionID, deadline, enc, dec)
		if err == nil {
			return result, nil
		}
		lastErr = err
		reason, ok := classify(err)
		if !ok {
			return nil, err
		}
		d := b.orch.Decide(reason, idem, attempt, deadline, lastErr)
		if !d.Retry {
			return nil, giveUp(lastErr, trace)
		}
		trace = append(trace, reason)
		if !sleep(ctx, d.Delay) {
			return nil, cberr.Wrap(cberr.ErrRequestCanceled, "", ctx.Err())
		}
	}
}

// roundTrip performs exactly one submit/await cycle: encode, submit to the
// session, wait for its completion handler, decode.
func (b *Bucket) roundTrip(ctx context.Context, sess *session.Session, partition uint16, collectionID uint32, deadline time.Time, enc Encoder, dec Decoder) (interface{}, error) {
	opaque := sess.NextOpaque()
	frame := enc(partition, collectionID, opaque)
	wireBytes := frame.Encode()

	type outcome struct {
		result interface{}
		err    error
	}
	ch := make(chan outcome, 1)
	pc := &session.PendingCommand{
		Opaque:   opaque,
		Deadline: deadline,
		Frame:    wireBytes,
		Handler: func(raw []byte, err error) {
			if err != nil {
				ch <- outcome{err: err}
				return
			}
			h, herr := wire.DecodeHeader(raw[:wire.HeaderLen])
			if herr != nil {
				ch <- outcome{err: herr}
				return
			}
			rf, berr := wire.DecodeBody(h, raw[wire.HeaderLen:])
			if berr != nil {
				ch <- outcome{err: berr}
				return
			}
			res, derr := dec(h, rf)
			ch <- outcome{result: res, err: derr}
		},
	}
	sess.Submit(pc)
	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, cberr.Wrap(cberr.ErrRequestCanceled, "", ctx.Err())
	}
}

// resolveCollectionID consults the session's cache, falling back to a
// synchronous GET_COLLECTION_ID round trip on a miss. ok is false (not an
// error) when the server reports the collection doesn't exist yet — the
// caller treats that as a retryable ReasonCollectionUnknown, since a
// manifest push may be in flight.
func (b *Bucket) resolveCollectionID(ctx context.Context, sess *session.Session, id DocumentId) (uint32, bool) {
	if cached, ok := sess.CollectionID(id.scope(), id.collection()); ok {
		return cached, true
	}
	opaque := sess.NextOpaque()
	path := id.scope() + "." + id.collection()
	frame := &wire.Frame{
		Header: wire.Header{Magic: wire.MagicReq, Opcode: wire.OpGetCollectionID, Opaque: opaque},
		Key:    []byte(path),
	}
	type outcome struct {
		id  uint32
		ok  bool
	}
	ch := make(chan outcome, 1)
	pc := &session.PendingCommand{
		Opaque:   opaque,
		Deadline: time.Now().Add(5 * time.Second),
		Frame:    frame.Encode(),
		Handler: func(raw []byte, err error) {
			if err != nil {
				ch <- outcome{}
				return
			}
			h, herr := wire.DecodeHeader(raw[:wire.HeaderLen])
			if herr != nil || h.Status() != wire.StatusSuccess {
				ch <- outcome{}
				return
			}
			rf, berr := wire.DecodeBody(h, raw[wire.HeaderLen:])
			if berr != nil || len(rf.Extras) < 12 {
				ch <- outcome{}
				return
			}
			cid := uint32(rf.Extras[8])<<24 | uint32(rf.Extras[9])<<16 | uint32(rf.Extras[10])<<8 | uint32(rf.Extras[11])
			sess.CacheCollectionID(id.scope(), id.collection(), cid)
			ch <- outcome{id: cid, ok: true}
		},
	}
	sess.Submit(pc)
	select {
	case o := <-ch:
		return o.id, o.ok
	case <-ctx.Done():
		return 0, false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// classify maps a cberr.Code surfaced from a round trip to the retry
// Reason it corresponds to, if any; ok is false for errors that are never
// retryable (the caller returns them immediately).
func classify(err error) (retry.Reason, bool) {
	if ce, ok := err.(*cberr.Error); ok && ce.Code == cberr.ErrInternalServerFailure {
		if ce.Context == "not_my_vbucket" {
			return retry.ReasonNotMyVBucket, true
		}
		return 0, false
	}
	switch cberr.CodeOf(err) {
	case cberr.ErrDocumentLocked:
		return retry.ReasonLocked, true
	case cberr.ErrTemporaryFailure:
		return retry.ReasonTemporaryFailure, true
	case cberr.ErrServiceNotAvailable:
		return retry.ReasonServiceNotAvailable, true
	case cberr.ErrCollectionNotFound:
		return retry.ReasonCollectionUnknown, true
	}
	return 0, false
}

func giveUp(lastErr error, trace retry.Trace) error {
	if len(trace) == 0 {
		return lastErr
	}
	return cberr.Wrap(cberr.CodeOf(lastErr), trace.String(), lastErr)
}
