/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"encoding/binary"

	"github.com/richardsmedley/cbcore/cberr"
)

// HeaderLen is the fixed size of the binary protocol header, always present
// regardless of magic.
const HeaderLen = 24

// Header is the 24-byte fixed frame header shared by every request and
// response, decoded in place from the first HeaderLen bytes of a frame.
type Header struct {
	Magic             Magic
	Opcode            Opcode
	KeyLen            uint16
	FramingExtrasLen  uint8 // alt-magic only; 0 otherwise
	ExtrasLen         uint8
	DataType          DataType
	VBucketOrStatus   uint16 // vbucket id on a request, Status on a response
	TotalBodyLen      uint32
	Opaque            uint32
	CAS               uint64
}

// Status interprets VBucketOrStatus as a response status.
func (h Header) Status() Status { return Status(h.VBucketOrStatus) }

// FrameInfo is one TLV entry of the framing-extras section (alt-magic
// frames only): preserve-expiry, durability requirements, impersonate-user,
// and similar out-of-band directives.
type FrameInfo struct {
	ID      uint8
	Payload []byte
}

const (
	FrameInfoReqBarrier          uint8 = 0x00
	FrameInfoReqDurability       uint8 = 0x01
	FrameInfoReqDcpStreamID      uint8 = 0x02
	FrameInfoReqPreserveTTL      uint8 = 0x05
	FrameInfoReqImpersonateUser  uint8 = 0x04
)

// Frame is a fully decoded (or not-yet-encoded) wire frame: header plus the
// four variable-length sections that follow it in order — framing-extras
// (alt-magic only), extras, key, value.
type Frame struct {
	Header       Header
	FramingExtras []FrameInfo
	Extras       []byte
	Key          []byte
	Value        []byte
}

// Encode serialises f into a single contiguous byte slice ready to write to
// the wire. The magic in f.Header determines whether framing-extras are
// emitted; TotalBodyLen and KeyLen/ExtrasLen are recomputed from the actual
// section lengths so callers never have to keep them in sync by hand.
func (f *Frame) Encode() []byte {
	var feBytes []byte
	if f.Header.Magic.HasFramingExtras() {
		feBytes = encodeFramingExtras(f.FramingExtras)
	}
	feLen := len(feBytes)
	body := HeaderLen
	total := feLen + len(f.Extras) + len(f.Key) + len(f.Value)

	buf := make([]byte, HeaderLen+total)
	buf[0] = byte(f.Header.Magic)
	buf[1] = byte(f.Header.Opcode)
	if f.Header.Magic.HasFramingExtras() {
		// alt-magic packs (framing-extras-len, key-len) into two bytes
		buf[2] = uint8(feLen)
		buf[3] = uint8(len(f.Key))
		f.Header.FramingExtrasLen = uint8(feLen)
	} else {
		binary.BigEndian.PutUint16(buf[2:4], uint16(len(f.Key)))
	}
	buf[4] = uint8(len(f.Extras))
	buf[5] = byte(f.Header.DataType)
	binary.BigEndian.PutUint16(buf[6:8], f.Header.VBucketOrStatus)
	binary.BigEndian.PutUint32(buf[8:12], uint32(total))
	binary.BigEndian.PutUint32(buf[12:16], f.Header.Opaque)
	binary.BigEndian.PutUint64(buf[16:24], f.Header.CAS)

	off := body
	off += copy(buf[off:], feBytes)
	off += copy(buf[off:], f.Extras)
	off += copy(buf[off:], f.Key)
	copy(buf[off:], f.Value)
	return buf
}

// DecodeHeader parses the fixed 24-byte header from buf, which must be at
// least HeaderLen bytes. The caller is responsible for reading
// TotalBodyLen further bytes to obtain the rest of the frame before calling
// DecodeBody.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, cberr.New(cberr.ErrDecodingFailure, "short header")
	}
	m := Magic(buf[0])
	if !m.IsRequest() && !m.IsResponse() {
		return Header{}, cberr.New(cberr.ErrDecodingFailure, "bad magic")
	}
	h := Header{
		Magic:        m,
		Opcode:       Opcode(buf[1]),
		ExtrasLen:    buf[4],
		DataType:     DataType(buf[5]),
		VBucketOrStatus: binary.BigEndian.Uint16(buf[6:8]),
		TotalBodyLen: binary.BigEndian.Uint32(buf[8:12]),
		Opaque:       binary.BigEndian.Uint32(buf[12:16]),
		CAS:          binary.BigEndian.Uint64(buf[16:24]),
	}
	if m.HasFramingExtras() {
		h.FramingExtrasLen = buf[2]
		h.KeyLen = uint16(buf[3])
	} else {
		h.KeyLen = binary.BigEndian.Uint16(buf[2:4])
	}
	return h, nil
}

// DecodeBody splits the TotalBodyLen bytes following the header into
// framing-extras, extras, key, and value according to h.
func DecodeBody(h Header, body []byte) (*Frame, error) {
	f := &Frame{Header: h}
	off := 0
	if h.Magic.HasFramingExtras() {
		feLen := int(h.FramingExtrasLen)
		if feLen > len(body) {
			return nil, cberr.New(cberr.ErrDecodingFailure, "bad framing-extras length")
		}
		infos, err := decodeFramingExtras(body[:feLen])
		if err != nil {
			return nil, err
		}
		f.FramingExtras = infos
		off = feLen
	}
	if off+int(h.ExtrasLen) > len(body) {
		return nil, cberr.New(cberr.ErrDecodingFailure, "short extras")
	}
	f.Extras = body[off : off+int(h.ExtrasLen)]
	off += int(h.ExtrasLen)
	if off+int(h.KeyLen) > len(body) {
		return nil, cberr.New(cberr.ErrDecodingFailure, "short key")
	}
	f.Key = body[off : off+int(h.KeyLen)]
	off += int(h.KeyLen)
	f.Value = body[off:]
	return f, nil
}

// encodeFramingExtras writes each FrameInfo's (id, length) nibble pair,
// escaping id and length independently when either exceeds 14: a nibble of
// 0xf means "the real value is carried in the next byte, biased by -15",
// per the frame-info TLV escape rule. The two escape bytes, when both
// present, appear in (id-escape, length-escape) order.
func encodeFramingExtras(infos []FrameInfo) []byte {
	var buf []byte
	for _, fi := range infos {
		l := len(fi.Payload)
		idNibble, lenNibble := uint8(fi.ID), uint8(l)
		escapeID, escapeLen := fi.ID >= 0x0f, l >= 0x0f
		if escapeID {
			idNibble = 0x0f
		}
		if escapeLen {
			lenNibble = 0x0f
		}
		buf = append(buf, idNibble<<4|lenNibble)
		if escapeID {
			buf = append(buf, fi.ID-0x0f)
		}
		if escapeLen {
			buf = append(buf, uint8(l-0x0f))
		}
		buf = append(buf, fi.Payload...)
	}
	return buf
}

func decodeFramingExtras(buf []byte) ([]FrameInfo, error) {
	var out []FrameInfo
	for len(buf) > 0 {
		b := buf[0]
		id := uint8(b >> 4)
		l := uint8(b & 0x0f)
		buf = buf[1:]
		if id == 0x0f {
			if len(buf) < 1 {
				return nil, cberr.New(cberr.ErrDecodingFailure, "truncated escaped frame-info id")
			}
			id = buf[0] + 0x0f
			buf = buf[1:]
		}
		if l == 0x0f {
			if len(buf) < 1 {
				return nil, cberr.New(cberr.ErrDecodingFailure, "truncated escaped frame-info length")
			}
			l = buf[0] + 0x0f
			buf = buf[1:]
		}
		if int(l) > len(buf) {
			return nil, cberr.New(cberr.ErrDecodingFailure, "truncated frame-info payload")
		}
		out = append(out, FrameInfo{ID: id, Payload: buf[:l]})
		buf = buf[l:]
	}
	return out, nil
}
