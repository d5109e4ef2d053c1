/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"encoding/binary"
	"sort"

	"github.com/richardsmedley/cbcore/cberr"
)

// SubdocFlags gates per-entry behaviour within a lookup/mutate multi-spec
// value.
type SubdocFlags uint8

const (
	SubdocFlagNone    SubdocFlags = 0x00
	SubdocFlagXattr   SubdocFlags = 0x04
	SubdocFlagCreatePath SubdocFlags = 0x01
	SubdocFlagExpandMacros SubdocFlags = 0x10
)

// SubdocDocFlags gates doc-level behaviour carried in the request extras.
type SubdocDocFlags uint8

const (
	SubdocDocFlagNone       SubdocDocFlags = 0x00
	SubdocDocFlagMkDoc      SubdocDocFlags = 0x01
	SubdocDocFlagAddDoc     SubdocDocFlags = 0x02
	SubdocDocFlagAccessDeleted SubdocDocFlags = 0x04
)

// Spec is one entry of a lookup-in/mutate-in request: an opcode, its
// per-entry flags, a path, and (for mutations) a value.
type Spec struct {
	Opcode Opcode
	Flags  SubdocFlags
	Path   string
	Value  []byte

	// origIndex records the caller's original position so the decoder can
	// restore it after the server-required xattr-first reordering.
	origIndex int
}

// SpecResult is one decoded entry of a lookup-in/mutate-in response, in the
// caller's original order.
type SpecResult struct {
	Status Status
	Value  []byte
}

// EncodeSpecs stably reorders specs so every xattr-flagged entry precedes
// every body entry — required by the server — while recording each entry's
// original index so DecodeLookupResults/DecodeMutateResults can restore
// caller order. It returns
// the encoded value bytes and the permutation needed to undo the reorder.
func EncodeSpecs(specs []Spec) (encoded []byte, order []int) {
	tagged := make([]Spec, len(specs))
	for i, s := range specs {
		s.origIndex = i
		tagged[i] = s
	}
	sort.SliceStable(tagged, func(i, j int) bool {
		xi := tagged[i].Flags&SubdocFlagXattr != 0
		xj := tagged[j].Flags&SubdocFlagXattr != 0
		return xi && !xj
	})
	order = make([]int, len(tagged))
	for pos, s := range tagged {
		order[pos] = s.origIndex
	}
	encoded = encodeSpecsInOrder(tagged)
	return
}

func encodeSpecsInOrder(specs []Spec) []byte {
	var buf []byte
	for _, s := range specs {
		entry := make([]byte, 4)
		entry[0] = byte(s.Opcode)
		entry[1] = byte(s.Flags)
		binary.BigEndian.PutUint16(entry[2:4], uint16(len(s.Path)))
		buf = append(buf, entry...)
		buf = append(buf, s.Path...)
		if len(s.Value) > 0 {
			vlen := make([]byte, 4)
			binary.BigEndian.PutUint32(vlen, uint32(len(s.Value)))
			buf = append(buf, vlen...)
			buf = append(buf, s.Value...)
		}
	}
	return buf
}

// DecodeLookupResults parses a multi-lookup response value (a sequence of
// {status(2), value-len(4), value} entries, one per spec in wire order) and
// restores the caller's original ordering using order from EncodeSpecs.
func DecodeLookupResults(value []byte, order []int) ([]SpecResult, error) {
	wireResults := make([]SpecResult, len(order))
	off := 0
	for i := range wireResults {
		if off+6 > len(value) {
			return nil, cberr.New(cberr.ErrDecodingFailure, "truncated lookup result")
		}
		status := Status(binary.BigEndian.Uint16(value[off : off+2]))
		vlen := int(binary.BigEndian.Uint32(value[off+2 : off+6]))
		off += 6
		if off+vlen > len(value) {
			return nil, cberr.New(cberr.ErrDecodingFailure, "truncated lookup value")
		}
		wireResults[i] = SpecResult{Status: status, Value: value[off : off+vlen]}
		off += vlen
	}
	return unorder(wireResults, order), nil
}

// DecodeMutateResults parses a multi-mutation response. On full success the
// server returns one entry per mutating spec that produced a value (e.g.
// counter, array push); on partial failure it returns a single
// {index(1), status(2), value} identifying the first failing spec.
func DecodeMutateResults(value []byte, order []int, numSpecs int) ([]SpecResult, error) {
	results := make([]SpecResult, numSpecs)
	off := 0
	for off < len(value) {
		if off+3 > len(value) {
			return nil, cberr.New(cberr.ErrDecodingFailure, "truncated mutate result")
		}
		idx := int(value[off])
		status := Status(binary.BigEndian.Uint16(value[off+1 : off+3]))
		off += 3
		var v []byte
		if status == StatusSuccess && off+4 <= len(value) {
			vlen := int(binary.BigEndian.Uint32(value[off : off+4]))
			off += 4
			if off+vlen > len(value) {
				return nil, cberr.New(cberr.ErrDecodingFailure, "truncated mutate value")
			}
			v = value[off : off+vlen]
			off += vlen
		}
		wireIdx := idx
		if wireIdx >= 0 && wireIdx < len(order) {
			results[order[wireIdx]] = SpecResult{Status: status, Value: v}
		}
	}
	return results, nil
}

func unorder(wireResults []SpecResult, order []int) []SpecResult {
	out := make([]SpecResult, len(wireResults))
	for wirePos, origPos := range order {
		out[origPos] = wireResults[wirePos]
	}
	return out
}
