/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import "encoding/binary"

// Feature is a 16-bit HELLO feature code negotiated at session start.
type Feature uint16

const (
	FeatureXattr                     Feature = 0x06
	FeatureXerror                    Feature = 0x07
	FeatureSelectBucket              Feature = 0x08
	FeatureSnappy                    Feature = 0x0a
	FeatureJSON                      Feature = 0x0b
	FeatureDuplex                    Feature = 0x0c
	FeatureClustermapChangeNotify    Feature = 0x0d
	FeatureUnorderedExecution        Feature = 0x0e
	FeatureTracing                   Feature = 0x0f
	FeatureAltRequests               Feature = 0x10
	FeatureSyncReplication           Feature = 0x11
	FeatureCollections               Feature = 0x12
	FeaturePreserveTTL               Feature = 0x14
)

// EncodeHello builds the value of a HELLO request: a sequence of 16-bit
// feature codes the client is willing to negotiate.
func EncodeHello(features []Feature) []byte {
	buf := make([]byte, len(features)*2)
	for i, f := range features {
		binary.BigEndian.PutUint16(buf[i*2:i*2+2], uint16(f))
	}
	return buf
}

// DecodeHello parses the value of a HELLO response: the subset of requested
// features the server agreed to support.
func DecodeHello(value []byte) []Feature {
	out := make([]Feature, 0, len(value)/2)
	for i := 0; i+2 <= len(value); i += 2 {
		out = append(out, Feature(binary.BigEndian.Uint16(value[i:i+2])))
	}
	return out
}

// FeatureSet is a set of negotiated features with O(1) membership tests,
// used by the session and wire codec to gate optional behaviour (snappy
// decompression, collections, preserve-expiry, …).
type FeatureSet map[Feature]struct{}

func NewFeatureSet(features []Feature) FeatureSet {
	fs := make(FeatureSet, len(features))
	for _, f := range features {
		fs[f] = struct{}{}
	}
	return fs
}

func (fs FeatureSet) Has(f Feature) bool {
	_, ok := fs[f]
	return ok
}
