/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import (
	"context"
	"time"

	"github.com/richardsmedley/cbcore/op"
	"github.com/richardsmedley/cbcore/retry"
	"github.com/richardsmedley/cbcore/wire"
)

// collectionsEnabled reports whether this bucket negotiated the
// collections feature on its node sessions; when false, op's
// CollectionKey encoding degrades to a bare key, matching pre-7.0 servers.
func (b *Bucket) collectionsEnabled() bool {
	return b.Negotiated().Has(wire.FeatureCollections)
}

func (b *Bucket) snappyNegotiated() bool {
	return b.Negotiated().Has(wire.FeatureSnappy)
}

func (b *Bucket) preserveTTLNegotiated() bool {
	return b.Negotiated().Has(wire.FeaturePreserveTTL)
}

// Get fetches a document by id.
func (b *Bucket) Get(ctx context.Context, id DocumentId, timeout time.Duration) (op.GetResponse, error) {
	deadline := time.Now().Add(timeout)
	snappy := b.snappyNegotiated()
	enabled := b.collectionsEnabled()
	res, err := b.Execute(ctx, "get", id, retry.Idempotent, deadline,
		func(partition uint16, collectionID uint32, opaque uint32) *wire.Frame {
			req := op.GetRequest{VBucket: partition, CollectionID: collectionID, Key: id.Key, CollectionsEnabled: enabled}
			return req.Encode(opaque)
		},
		func(h wire.Header, f *wire.Frame) (interface{}, error) {
			return op.DecodeGet(f, h.Status(), b.errMap(), snappy)
		},
	)
	if err != nil {
		return op.GetResponse{}, err
	}
	return res.(op.GetResponse), nil
}

// Upsert stores a document, creating or overwriting it unconditionally.
func (b *Bucket) Upsert(ctx context.Context, id DocumentId, value []byte, flags uint32, expirySecs uint32, timeout time.Duration) (op.MutateResponse, error) {
	return b.mutate(ctx, id, op.MutateUpsert, value, flags, expirySecs, 0, false, timeout)
}

// Insert stores a document only if it does not already exist.
func (b *Bucket) Insert(ctx context.Context, id DocumentId, value []byte, flags uint32, expirySecs uint32, timeout time.Duration) (op.MutateResponse, error) {
	return b.mutate(ctx, id, op.MutateInsert, value, flags, expirySecs, 0, false, timeout)
}

// Replace overwrites an existing document, optionally gated by cas.
func (b *Bucket) Replace(ctx context.Context, id DocumentId, value []byte, flags uint32, expirySecs uint32, cas uint64, timeout time.Duration) (op.MutateResponse, error) {
	return b.mutate(ctx, id, op.MutateReplace, value, flags, expirySecs, cas, false, timeout)
}

// ReplacePreserveExpiry overwrites an existing document's body while
// leaving its current TTL untouched (spec.md §9(b): silently dropped
// against a session that never negotiated FeaturePreserveTTL).
func (b *Bucket) ReplacePreserveExpiry(ctx context.Context, id DocumentId, value []byte, flags uint32, cas uint64, timeout time.Duration) (op.MutateResponse, error) {
	return b.mutate(ctx, id, op.MutateReplace, value, flags, 0, cas, true, timeout)
}

func (b *Bucket) mutate(ctx context.Context, id DocumentId, kind op.MutateKind, value []byte, flags, expirySecs uint32, cas uint64, preserveExpiry bool, timeout time.Duration) (op.MutateResponse, error) {
	deadline := time.Now().Add(timeout)
	enabled := b.collectionsEnabled()
	snappy := b.snappyNegotiated()
	preserveTTLOk := b.preserveTTLNegotiated()
	idem := retry.NotIdempotent
	if kind == op.MutateUpsert || cas != 0 {
		idem = retry.IdempotentWithCAS
	}
	res, err := b.Execute(ctx, mutateOpName(kind), id, idem, deadline,
		func(partition uint16, collectionID uint32, opaque uint32) *wire.Frame {
			req := op.MutateRequest{
				Kind: kind, VBucket: partition, CollectionID: collectionID, CollectionsEnabled: enabled,
				Key: id.Key, Value: value, Flags: flags, ExpirySecs: expirySecs, CAS: cas,
				PreserveExpiry: preserveExpiry, PreserveExpiryNegotiated: preserveTTLOk,
				CompressWanted: true, SnappyNegotiated: snappy,
			}
			return req.Encode(opaque)
		},
		func(h wire.Header, f *wire.Frame) (interface{}, error) {
			bucketName := b.cfg.Name
			var partition uint16
			if snap := b.Snapshot(); snap != nil {
				partition = PartitionOf(id.Key, snap.PartitionCount())
			}
			return op.DecodeMutate(f, h.Status(), b.errMap(), partition, bucketName)
		},
	)
	if err != nil {
		return op.MutateResponse{}, err
	}
	return res.(op.MutateResponse), nil
}

// Remove deletes a document, optionally gated by cas.
func (b *Bucket) Remove(ctx context.Context, id DocumentId, cas uint64, timeout time.Duration) (op.DeleteResponse, error) {
	deadline := time.Now().Add(timeout)
	enabled := b.collectionsEnabled()
	idem := retry.NotIdempotent
	if cas != 0 {
		idem = retry.IdempotentWithCAS
	}
	res, err := b.Execute(ctx, "remove", id, idem, deadline,
		func(partition uint16, collectionID uint32, opaque uint32) *wire.Frame {
			req := op.DeleteRequest{VBucket: partition, CollectionID: collectionID, CollectionsEnabled: enabled, Key: id.Key, CAS: cas}
			return req.Encode(opaque)
		},
		func(h wire.Header, f *wire.Frame) (interface{}, error) {
			bucketName := b.cfg.Name
			var partition uint16
			if snap := b.Snapshot(); snap != nil {
				partition = PartitionOf(id.Key, snap.PartitionCount())
			}
			return op.DecodeDelete(f, h.Status(), b.errMap(), partition, bucketName)
		},
	)
	if err != nil {
		return op.DeleteResponse{}, err
	}
	return res.(op.DeleteResponse), nil
}

// LookupIn performs a sub-document multi-lookup.
func (b *Bucket) LookupIn(ctx context.Context, id DocumentId, specs []wire.Spec, timeout time.Duration) (op.LookupInResponse, error) {
	deadline := time.Now().Add(timeout)
	enabled := b.collectionsEnabled()
	var order []int
	res, err := b.Execute(ctx, "lookup_in", id, retry.Idempotent, deadline,
		func(partition uint16, collectionID uint32, opaque uint32) *wire.Frame {
			req := op.LookupInRequest{VBucket: partition, CollectionID: collectionID, CollectionsEnabled: enabled, Key: id.Key, Specs: specs}
			f, ord := req.Encode(opaque)
			order = ord
			return f
		},
		func(h wire.Header, f *wire.Frame) (interface{}, error) {
			return op.DecodeLookupIn(f, h.Status(), b.errMap(), order)
		},
	)
	if err != nil {
		return op.LookupInResponse{}, err
	}
	return res.(op.LookupInResponse), nil
}

// MutateIn performs a sub-document multi-mutation.
func (b *Bucket) MutateIn(ctx context.Context, id DocumentId, specs []wire.Spec, cas uint64, timeout time.Duration) (op.MutateInResponse, error) {
	deadline := time.Now().Add(timeout)
	enabled := b.collectionsEnabled()
	var order []int
	idem := retry.NotIdempotent
	if cas != 0 {
		idem = retry.IdempotentWithCAS
	}
	res, err := b.Execute(ctx, "mutate_in", id, idem, deadline,
		func(partition uint16, collectionID uint32, opaque uint32) *wire.Frame {
			req := op.MutateInRequest{VBucket: partition, CollectionID: collectionID, CollectionsEnabled: enabled, Key: id.Key, Specs: specs, CAS: cas}
			f, ord := req.Encode(opaque)
			order = ord
			return f
		},
		func(h wire.Header, f *wire.Frame) (interface{}, error) {
			bucketName := b.cfg.Name
			var partition uint16
			if snap := b.Snapshot(); snap != nil {
				partition = PartitionOf(id.Key, snap.PartitionCount())
			}
			return op.DecodeMutateIn(f, h.Status(), b.errMap(), order, len(specs), partition, bucketName)
		},
	)
	if err != nil {
		return op.MutateInResponse{}, err
	}
	return res.(op.MutateInResponse), nil
}

// mutateOpName names a MutateKind for the KVOpLatency/KVOpsTotal labels.
func mutateOpName(kind op.MutateKind) string {
	switch kind {
	case op.MutateInsert:
		return "insert"
	case op.MutateReplace:
		return "replace"
	default:
		return "upsert"
	}
}

// errMap returns an arbitrary live session's negotiated error map, used to
// classify response statuses per spec.md §3's "authoritative source of
// retry classification".
func (b *Bucket) errMap() *wire.ErrorMap {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sessions {
		if em := s.ErrorMap(); em != nil {
			return em
		}
	}
	return nil
}
