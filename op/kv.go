/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package op

import (
	"encoding/binary"

	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/wire"
)

// CollectionKey is an already-collection-qualified key ready to place on
// the wire: the leading collection id varint (when collections are
// negotiated) followed by the raw key bytes.
func CollectionKey(collectionID uint32, key []byte, collectionsEnabled bool) []byte {
	if !collectionsEnabled {
		return key
	}
	return append(encodeUvarint(collectionID), key...)
}

func encodeUvarint(v uint32) []byte {
	buf := make([]byte, binary.MaxVarintLen32)
	n := binary.PutUvarint(buf, uint64(v))
	return buf[:n]
}

// GetRequest is a plain document fetch: no extras, key only.
type GetRequest struct {
	VBucket      uint16
	CollectionID uint32
	Key          []byte
	CollectionsEnabled bool
}

func (r GetRequest) Encode(opaque uint32) *wire.Frame {
	return &wire.Frame{
		Header: wire.Header{Magic: wire.MagicReq, Opcode: wire.OpGet, VBucketOrStatus: r.VBucket, Opaque: opaque},
		Key:    CollectionKey(r.CollectionID, r.Key, r.CollectionsEnabled),
	}
}

type GetResponse struct {
	CAS   uint64
	Flags uint32
	Value []byte
}

func DecodeGet(f *wire.Frame, status wire.Status, em *wire.ErrorMap, snappyNegotiated bool) (GetResponse, error) {
	if status != wire.StatusSuccess {
		return GetResponse{}, wire.StatusError(status, em)
	}
	value, err := wire.MaybeDecompress(f.Value, f.Header.DataType, snappyNegotiated)
	if err != nil {
		return GetResponse{}, err
	}
	return GetResponse{CAS: f.Header.CAS, Flags: wire.DecodeGetExtras(f.Extras), Value: value}, nil
}

// MutateKind selects SET/ADD/REPLACE/APPEND/PREPEND semantics for a
// MutateRequest — the driver's "upsert"/"insert"/"replace" map onto the
// first three opcodes.
type MutateKind int

const (
	MutateUpsert MutateKind = iota
	MutateInsert
	MutateReplace
	MutateAppend
	MutatePrepend
)

func (k MutateKind) opcode() wire.Opcode {
	switch k {
	case MutateInsert:
		return wire.OpAdd
	case MutateReplace:
		return wire.OpReplace
	case MutateAppend:
		return wire.OpAppend
	case MutatePrepend:
		return wire.OpPrepend
	}
	return wire.OpSet
}

// MutateRequest covers upsert/insert/replace/append/prepend.
type MutateRequest struct {
	Kind         MutateKind
	VBucket      uint16
	CollectionID uint32
	CollectionsEnabled bool
	Key          []byte
	Value        []byte
	Flags        uint32
	ExpirySecs   uint32
	CAS          uint64 // 0 means "no CAS check" except for Replace/Append/Prepend semantics
	PreserveExpiry bool
	PreserveExpiryNegotiated bool
	Durability   wire.DurabilityLevel
	CompressWanted bool
	SnappyNegotiated bool
}

func (r MutateRequest) Encode(opaque uint32) *wire.Frame {
	magic := wire.MagicReq
	var framingExtras []wire.FrameInfo
	if r.PreserveExpiry && r.PreserveExpiryNegotiated {
		framingExtras = append(framingExtras, wire.PreserveTTLFrameInfo())
	}
	if r.Durability != wire.DurabilityNone {
		framingExtras = append(framingExtras, wire.DurabilityFrameInfo(r.Durability, 0))
	}
	if len(framingExtras) > 0 {
		magic = wire.MagicReqAlt
	}
	value, dtBit := wire.MaybeCompress(r.Value, r.CompressWanted, r.SnappyNegotiated)
	h := wire.Header{
		Magic: magic, Opcode: r.Kind.opcode(), VBucketOrStatus: r.VBucket,
		Opaque: opaque, CAS: r.CAS, DataType: dtBit,
	}
	return &wire.Frame{
		Header:        h,
		FramingExtras: framingExtras,
		Extras:        wire.MutateExtras{Flags: r.Flags, Expiry: r.ExpirySecs}.Encode(),
		Key:           CollectionKey(r.CollectionID, r.Key, r.CollectionsEnabled),
		Value:         value,
	}
}

type MutateResponse struct {
	CAS   uint64
	Token *MutationToken
}

func DecodeMutate(f *wire.Frame, status wire.Status, em *wire.ErrorMap, vbucket uint16, bucketName string) (MutateResponse, error) {
	if status != wire.StatusSuccess {
		return MutateResponse{}, wire.StatusError(status, em)
	}
	resp := MutateResponse{CAS: f.Header.CAS}
	if seq, ok := wire.DecodeMutationSeqno(f.Extras); ok {
		resp.Token = &MutationToken{
			PartitionID: vbucket, PartitionUUID: seq.VBucketUUID,
			SequenceNumber: seq.SeqNo, BucketName: bucketName,
		}
	}
	return resp, nil
}

// DeleteRequest removes a document, optionally CAS-gated.
type DeleteRequest struct {
	VBucket      uint16
	CollectionID uint32
	CollectionsEnabled bool
	Key          []byte
	CAS          uint64
}

func (r DeleteRequest) Encode(opaque uint32) *wire.Frame {
	return &wire.Frame{
		Header: wire.Header{Magic: wire.MagicReq, Opcode: wire.OpDelete, VBucketOrStatus: r.VBucket, Opaque: opaque, CAS: r.CAS},
		Key:    CollectionKey(r.CollectionID, r.Key, r.CollectionsEnabled),
	}
}

type DeleteResponse struct {
	CAS   uint64
	Token *MutationToken
}

func DecodeDelete(f *wire.Frame, status wire.Status, em *wire.ErrorMap, vbucket uint16, bucketName string) (DeleteResponse, error) {
	if status != wire.StatusSuccess {
		return DeleteResponse{}, wire.StatusError(status, em)
	}
	resp := DeleteResponse{CAS: f.Header.CAS}
	if seq, ok := wire.DecodeMutationSeqno(f.Extras); ok {
		resp.Token = &MutationToken{PartitionID: vbucket, PartitionUUID: seq.VBucketUUID, SequenceNumber: seq.SeqNo, BucketName: bucketName}
	}
	return resp, nil
}

// LookupInRequest is a sub-document multi-lookup: read-only specs against
// one document, body and xattr paths freely mixed (spec.md §4.1,§8).
type LookupInRequest struct {
	VBucket      uint16
	CollectionID uint32
	CollectionsEnabled bool
	Key          []byte
	Specs        []wire.Spec
	AccessDeleted bool
}

func (r LookupInRequest) Encode(opaque uint32) (*wire.Frame, []int) {
	encoded, order := wire.EncodeSpecs(r.Specs)
	docFlags := wire.SubdocDocFlagNone
	if r.AccessDeleted {
		docFlags = wire.SubdocDocFlagAccessDeleted
	}
	f := &wire.Frame{
		Header: wire.Header{Magic: wire.MagicReq, Opcode: wire.OpSubdocMultiLookup, VBucketOrStatus: r.VBucket, Opaque: opaque},
		Extras: wire.SubdocDocExtras{Flags: docFlags}.Encode(),
		Key:    CollectionKey(r.CollectionID, r.Key, r.CollectionsEnabled),
		Value:  encoded,
	}
	return f, order
}

type LookupInResponse struct {
	CAS     uint64
	Results []wire.SpecResult
}

func DecodeLookupIn(f *wire.Frame, status wire.Status, em *wire.ErrorMap, order []int) (LookupInResponse, error) {
	// StatusSubdocMultiPathFailure still carries a parseable results body —
	// individual spec failures are reported per-entry, not as one overall
	// operation failure.
	if status != wire.StatusSuccess && status != wire.StatusSubdocMultiPathFailure {
		return LookupInResponse{}, wire.StatusError(status, em)
	}
	results, err := wire.DecodeLookupResults(f.Value, order)
	if err != nil {
		return LookupInResponse{}, err
	}
	return LookupInResponse{CAS: f.Header.CAS, Results: results}, nil
}

// MutateInRequest is a sub-document multi-mutation.
type MutateInRequest struct {
	VBucket      uint16
	CollectionID uint32
	CollectionsEnabled bool
	Key          []byte
	Specs        []wire.Spec
	CAS          uint64
	MkDoc        bool
	AddDoc       bool
}

func (r MutateInRequest) Encode(opaque uint32) (*wire.Frame, []int) {
	encoded, order := wire.EncodeSpecs(r.Specs)
	var docFlags wire.SubdocDocFlags
	if r.MkDoc {
		docFlags |= wire.SubdocDocFlagMkDoc
	}
	if r.AddDoc {
		docFlags |= wire.SubdocDocFlagAddDoc
	}
	f := &wire.Frame{
		Header: wire.Header{Magic: wire.MagicReq, Opcode: wire.OpSubdocMultiMutation, VBucketOrStatus: r.VBucket, Opaque: opaque, CAS: r.CAS},
		Extras: wire.SubdocDocExtras{Flags: docFlags}.Encode(),
		Key:    CollectionKey(r.CollectionID, r.Key, r.CollectionsEnabled),
		Value:  encoded,
	}
	return f, order
}

type MutateInResponse struct {
	CAS     uint64
	Token   *MutationToken
	Results []wire.SpecResult
}

func DecodeMutateIn(f *wire.Frame, status wire.Status, em *wire.ErrorMap, order []int, numSpecs int, vbucket uint16, bucketName string) (MutateInResponse, error) {
	if status != wire.StatusSuccess {
		return MutateInResponse{}, wire.StatusError(status, em)
	}
	results, err := wire.DecodeMutateResults(f.Value, order, numSpecs)
	if err != nil {
		return MutateInResponse{}, err
	}
	resp := MutateInResponse{CAS: f.Header.CAS, Results: results}
	if seq, ok := wire.DecodeMutationSeqno(f.Extras); ok {
		resp.Token = &MutationToken{PartitionID: vbucket, PartitionUUID: seq.VBucketUUID, SequenceNumber: seq.SeqNo, BucketName: bucketName}
	}
	return resp, nil
}

// GetCollectionIDRequest resolves "scope.collection" to a 32-bit id,
// driven by Session's per-session cache (spec.md §4.3).
type GetCollectionIDRequest struct {
	Scope      string
	Collection string
}

func (r GetCollectionIDRequest) Encode(opaque uint32) *wire.Frame {
	path := r.Scope + "." + r.Collection
	return &wire.Frame{
		Header: wire.Header{Magic: wire.MagicReq, Opcode: wire.OpGetCollectionID, Opaque: opaque},
		Key:    []byte(path),
	}
}

type GetCollectionIDResponse struct {
	ManifestRevision uint64
	CollectionID     uint32
}

func DecodeGetCollectionID(f *wire.Frame, status wire.Status, em *wire.ErrorMap) (GetCollectionIDResponse, error) {
	if status != wire.StatusSuccess {
		return GetCollectionIDResponse{}, wire.StatusError(status, em)
	}
	if len(f.Extras) < 12 {
		return GetCollectionIDResponse{}, cberr.New(cberr.ErrDecodingFailure, "short GET_COLLECTION_ID extras")
	}
	return GetCollectionIDResponse{
		ManifestRevision: binary.BigEndian.Uint64(f.Extras[0:8]),
		CollectionID:     binary.BigEndian.Uint32(f.Extras[8:12]),
	}, nil
}
