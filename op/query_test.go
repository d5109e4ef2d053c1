/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package op

import (
	"testing"

	"github.com/richardsmedley/cbcore/wire"
)

// TestDecodeQueryCarriesServiceMetadata covers spec.md §4.6 scenario 1:
// status/signature/profile/warnings must all survive decode, not just
// requestID/rows/metrics.
func TestDecodeQueryCarriesServiceMetadata(t *testing.T) {
	resp := wire.HTTPResponse{
		Status: 200,
		Body: []byte(`{
			"requestID": "r-1",
			"clientContextID": "c-1",
			"status": "success",
			"signature": {"*":"*"},
			"results": [{"a":1}],
			"profile": {"phases":{}},
			"warnings": [{"code": 1, "msg": "deprecated option"}],
			"metrics": {"elapsedTime":"1ms","executionTime":"1ms","resultCount":1,"resultSize":10}
		}`),
	}
	q, err := DecodeQuery(resp)
	if err != nil {
		t.Fatalf("DecodeQuery: %v", err)
	}
	if q.Status != "success" {
		t.Fatalf("Status = %q, want success", q.Status)
	}
	if len(q.Signature) == 0 {
		t.Fatal("Signature not carried through")
	}
	if len(q.Profile) == 0 {
		t.Fatal("Profile not carried through")
	}
	if len(q.Warnings) != 1 || q.Warnings[0].Message != "deprecated option" {
		t.Fatalf("Warnings not carried through: %+v", q.Warnings)
	}
	if len(q.Rows) != 1 {
		t.Fatalf("Rows = %d, want 1", len(q.Rows))
	}
}
