/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"bytes"
	"testing"
)

// TestSubdocOrderingInvariant covers spec.md §8 scenario 5: lookup_in with
// specs mixing xattr and body paths in arbitrary order must come back in
// exactly the caller's original order, even though the server requires
// xattr entries to be transmitted first.
func TestSubdocOrderingInvariant(t *testing.T) {
	specs := []Spec{
		{Opcode: OpSubdocGet, Flags: SubdocFlagXattr, Path: "$XTOC"},
		{Opcode: OpSubdocGet, Flags: SubdocFlagNone, Path: "foo"},
		{Opcode: OpSubdocGet, Flags: SubdocFlagXattr, Path: "meta.rev"},
	}
	encoded, order := EncodeSpecs(specs)
	if len(encoded) == 0 {
		t.Fatal("expected non-empty encoding")
	}

	// The two xattr specs (indices 0, 2) must precede the body spec (index
	// 1) in wire order.
	wirePositionOf := func(origIdx int) int {
		for pos, orig := range order {
			if orig == origIdx {
				return pos
			}
		}
		t.Fatalf("origIdx %d missing from order", origIdx)
		return -1
	}
	if wirePositionOf(0) > wirePositionOf(1) || wirePositionOf(2) > wirePositionOf(1) {
		t.Fatalf("xattr specs not reordered before body spec: order=%v", order)
	}

	// Build a synthetic multi-lookup response in wire order and verify the
	// decoder restores caller order.
	var value []byte
	statuses := map[int]Status{0: StatusSuccess, 1: StatusSuccess, 2: StatusSuccess}
	results := map[int][]byte{0: []byte(`1`), 1: []byte(`"v"`), 2: []byte(`2`)}
	for _, origIdx := range order {
		value = append(value, encodeLookupEntry(statuses[origIdx], results[origIdx])...)
	}
	decoded, err := DecodeLookupResults(value, order)
	if err != nil {
		t.Fatalf("DecodeLookupResults: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 results, got %d", len(decoded))
	}
	if !bytes.Equal(decoded[0].Value, []byte(`1`)) ||
		!bytes.Equal(decoded[1].Value, []byte(`"v"`)) ||
		!bytes.Equal(decoded[2].Value, []byte(`2`)) {
		t.Fatalf("results not restored to caller order: %+v", decoded)
	}
}

func encodeLookupEntry(status Status, value []byte) []byte {
	buf := make([]byte, 6+len(value))
	buf[0] = byte(status >> 8)
	buf[1] = byte(status)
	vlen := uint32(len(value))
	buf[2] = byte(vlen >> 24)
	buf[3] = byte(vlen >> 16)
	buf[4] = byte(vlen >> 8)
	buf[5] = byte(vlen)
	copy(buf[6:], value)
	return buf
}
