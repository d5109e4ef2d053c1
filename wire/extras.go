/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import "encoding/binary"

// MutateExtras is the 8-byte extras section of SET/ADD/REPLACE/APPEND/
// PREPEND requests: 32-bit flags followed by a 32-bit expiry.
type MutateExtras struct {
	Flags  uint32
	Expiry uint32
}

func (e MutateExtras) Encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], e.Flags)
	binary.BigEndian.PutUint32(buf[4:8], e.Expiry)
	return buf
}

func DecodeMutateExtras(buf []byte) MutateExtras {
	if len(buf) < 8 {
		return MutateExtras{}
	}
	return MutateExtras{
		Flags:  binary.BigEndian.Uint32(buf[0:4]),
		Expiry: binary.BigEndian.Uint32(buf[4:8]),
	}
}

// DecodeGetExtras reads the flags word from the extras of a GET response,
// returning 0 when the extras are shorter than 4 bytes.
func DecodeGetExtras(buf []byte) (flags uint32) {
	if len(buf) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(buf[0:4])
}

// SubdocDocExtras is the 1-byte doc-level flags extras of a subdoc
// multi-lookup/multi-mutation request.
type SubdocDocExtras struct {
	Flags SubdocDocFlags
}

func (e SubdocDocExtras) Encode() []byte {
	if e.Flags == SubdocDocFlagNone {
		return nil
	}
	return []byte{byte(e.Flags)}
}

// MutationSeqno is the 16-byte extras of a successful mutation response
// that negotiated mutation-seqno tracking: vbucket uuid + sequence number,
// the raw material of a MutationToken.
type MutationSeqno struct {
	VBucketUUID uint64
	SeqNo       uint64
}

func DecodeMutationSeqno(buf []byte) (MutationSeqno, bool) {
	if len(buf) < 16 {
		return MutationSeqno{}, false
	}
	return MutationSeqno{
		VBucketUUID: binary.BigEndian.Uint64(buf[0:8]),
		SeqNo:       binary.BigEndian.Uint64(buf[8:16]),
	}, true
}

// NotMyVBucketConfig extracts the raw JSON cluster config the server
// attaches to the value of a NOT_MY_VBUCKET response body.
func NotMyVBucketConfig(value []byte) []byte { return value }

// PreserveTTLFrameInfo builds the framing-extras entry requesting the
// server preserve the document's existing expiry on this mutation. Callers
// must only include this when the session negotiated FeaturePreserveTTL —
// SPEC_FULL.md §9(b): the flag is silently dropped against servers that
// never advertised the feature.
func PreserveTTLFrameInfo() FrameInfo {
	return FrameInfo{ID: FrameInfoReqPreserveTTL, Payload: nil}
}

// ImpersonateUserFrameInfo builds the framing-extras entry stamping a
// request as performed on behalf of user (RBAC impersonation).
func ImpersonateUserFrameInfo(user string) FrameInfo {
	return FrameInfo{ID: FrameInfoReqImpersonateUser, Payload: []byte(user)}
}

// DurabilityLevel is the synchronous-replication level requested on a
// mutation, encoded into a durability-requirement framing-extras entry.
type DurabilityLevel uint8

const (
	DurabilityNone DurabilityLevel = iota
	DurabilityMajority
	DurabilityMajorityAndPersistActive
	DurabilityPersistToMajority
)

// DurabilityFrameInfo builds the framing-extras entry for level, optionally
// with an explicit timeout in 1/10ms units (0 means server default).
func DurabilityFrameInfo(level DurabilityLevel, timeoutTenthsMs uint16) FrameInfo {
	if timeoutTenthsMs == 0 {
		return FrameInfo{ID: FrameInfoReqDurability, Payload: []byte{byte(level)}}
	}
	buf := make([]byte, 3)
	buf[0] = byte(level)
	binary.BigEndian.PutUint16(buf[1:3], timeoutTenthsMs)
	return FrameInfo{ID: FrameInfoReqDurability, Payload: buf}
}
