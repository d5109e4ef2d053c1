/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{
		Header: Header{
			Magic:  MagicReq,
			Opcode: OpSet,
			DataType: DataTypeJSON,
			VBucketOrStatus: 42,
			Opaque: 7,
			CAS:    0,
		},
		Extras: MutateExtras{Flags: 0x33, Expiry: 0}.Encode(),
		Key:    []byte("doc1"),
		Value:  []byte(`{"foo":"bar"}`),
	}
	raw := f.Encode()

	h, err := DecodeHeader(raw[:HeaderLen])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Opcode != OpSet || h.Opaque != 7 || h.VBucketOrStatus != 42 {
		t.Fatalf("unexpected header: %+v", h)
	}
	got, err := DecodeBody(h, raw[HeaderLen:])
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if !bytes.Equal(got.Key, f.Key) || !bytes.Equal(got.Value, f.Value) {
		t.Fatalf("round-trip mismatch: key=%q value=%q", got.Key, got.Value)
	}
	if !bytes.Equal(got.Extras, f.Extras) {
		t.Fatalf("extras mismatch")
	}
}

func TestFrameAltMagicFramingExtras(t *testing.T) {
	f := &Frame{
		Header: Header{
			Magic:  MagicReqAlt,
			Opcode: OpSet,
		},
		FramingExtras: []FrameInfo{PreserveTTLFrameInfo()},
		Key:           []byte("k"),
	}
	raw := f.Encode()
	h, err := DecodeHeader(raw[:HeaderLen])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	got, err := DecodeBody(h, raw[HeaderLen:])
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if len(got.FramingExtras) != 1 || got.FramingExtras[0].ID != FrameInfoReqPreserveTTL {
		t.Fatalf("framing extras not preserved: %+v", got.FramingExtras)
	}
	if string(got.Key) != "k" {
		t.Fatalf("key mismatch: %q", got.Key)
	}
}

// TestFrameInfoLongFormPreservesID covers the escaped long-form frame-info
// encoding: a payload over 14 bytes forces the length nibble to escape, and
// an id of 15 or more forces the id nibble to escape too. Both must survive
// round-trip, not just the short form the preserve-ttl/durability callers
// happen to use today.
func TestFrameInfoLongFormPreservesID(t *testing.T) {
	longPayload := bytes.Repeat([]byte{0xAB}, 20)
	f := &Frame{
		Header: Header{Magic: MagicReqAlt, Opcode: OpSet},
		FramingExtras: []FrameInfo{
			{ID: 0x02, Payload: longPayload},
			{ID: 0x1a, Payload: []byte{0x01}},
		},
	}
	raw := f.Encode()
	h, err := DecodeHeader(raw[:HeaderLen])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	got, err := DecodeBody(h, raw[HeaderLen:])
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if len(got.FramingExtras) != 2 {
		t.Fatalf("expected 2 frame-infos, got %d", len(got.FramingExtras))
	}
	if got.FramingExtras[0].ID != 0x02 || !bytes.Equal(got.FramingExtras[0].Payload, longPayload) {
		t.Fatalf("long-payload frame-info mismatch: %+v", got.FramingExtras[0])
	}
	if got.FramingExtras[1].ID != 0x1a || !bytes.Equal(got.FramingExtras[1].Payload, []byte{0x01}) {
		t.Fatalf("escaped-id frame-info mismatch: %+v", got.FramingExtras[1])
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	buf := make([]byte, HeaderLen)
	buf[0] = 0xAB
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}
