/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package op

import (
	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/internal/ccid"
	"github.com/richardsmedley/cbcore/wire"
)

// QueryRequest is the typed, service-agnostic shape handed to the cluster's
// HTTP dispatcher; Encode turns it into the POST body the query service
// expects (spec.md §4.6, §3's "N1QL-ish query service").
type QueryRequest struct {
	Statement       string
	Positional      []interface{}
	Named           map[string]interface{}
	ScanConsistency wire.ScanConsistency
	ConsistentWith  *MutationState
	Readonly        bool
	MaxParallelism  int
	ClientContextID string // caller-supplied; generated if empty
}

// Encode builds the HTTP envelope for this query. When ConsistentWith
// carries tokens, ScanConsistency is forced to request_plus regardless of
// the caller's setting — at_plus consistency is meaningless without scan
// vectors attached.
func (r QueryRequest) Encode() (wire.HTTPRequest, error) {
	ccidVal := r.ClientContextID
	if ccidVal == "" {
		ccidVal = ccid.New()
	}
	body := wire.QueryRequestBody{
		Statement:            r.Statement,
		ScanConsistency:      r.ScanConsistency,
		PositionalParameters: r.Positional,
		NamedParameters:      r.Named,
		Readonly:             r.Readonly,
		MaxParallelism:       r.MaxParallelism,
		ClientContextID:      ccidVal,
	}
	if r.ConsistentWith != nil && len(r.ConsistentWith.Tokens()) > 0 {
		body.ScanConsistency = wire.ScanRequestPlus
		body.ScanVectors = buildScanVectors(r.ConsistentWith)
	}
	raw, err := wire.JSON.Marshal(body)
	if err != nil {
		return wire.HTTPRequest{}, cberr.Wrap(cberr.ErrEncodingFailure, "query request", err)
	}
	return wire.HTTPRequest{
		Method:  "POST",
		Path:    "/query/service",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    raw,
	}, nil
}

// buildScanVectors shapes a MutationState into the query service's
// "scan_vectors":{"bucket":{"partition":[seqno,uuid-as-string]}} layout.
// Every distinct bucket name present in the state gets its own top-level
// entry, matching how a query can span buckets via keyspace references.
func buildScanVectors(ms *MutationState) map[string][]interface{} {
	byBucket := make(map[string]map[string][]interface{})
	for _, t := range ms.Tokens() {
		m, ok := byBucket[t.BucketName]
		if !ok {
			m = make(map[string][]interface{})
			byBucket[t.BucketName] = m
		}
		m[itoa16(t.PartitionID)] = []interface{}{t.SequenceNumber, u64String(t.PartitionUUID)}
	}
	out := make(map[string][]interface{}, len(byBucket))
	for bucket, vectors := range byBucket {
		flat := make([]interface{}, 0, len(vectors))
		for part, pair := range vectors {
			flat = append(flat, map[string]interface{}{part: pair})
		}
		out[bucket] = flat
	}
	return out
}

func itoa16(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func u64String(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// QueryResponse is the decoded, caller-facing reply: the raw per-row JSON
// is left undecoded (row shape is query-specific) while metadata is typed.
type QueryResponse struct {
	RequestID       string
	ClientContextID string
	Status          string
	Rows            []jsonRaw
	Signature       jsonRaw
	Profile         jsonRaw
	Warnings        []wire.QueryError
	Metrics         wire.QueryMetrics
}

type jsonRaw = []byte

// DecodeQuery parses resp.Body and classifies any service-level errors via
// the uniform taxonomy. A body that does not parse yields decoding_failure
// whatever the HTTP status; a parsed body with no errors but an HTTP status
// of 400 or above yields internal_server_failure. The HTTP status code
// itself is not mapped to a more specific cberr code.
func DecodeQuery(resp wire.HTTPResponse) (QueryResponse, error) {
	var body wire.QueryResponseBody
	if err := wire.JSON.Unmarshal(resp.Body, &body); err != nil {
		return QueryResponse{}, cberr.Wrap(cberr.ErrDecodingFailure, "query response", err)
	}
	if len(body.Errors) > 0 {
		return QueryResponse{}, queryError(body.Errors[0])
	}
	if resp.Status >= 400 {
		return QueryResponse{}, cberr.New(cberr.ErrInternalServerFailure, "query http status")
	}
	rows := make([]jsonRaw, len(body.Results))
	for i, r := range body.Results {
		rows[i] = []byte(r)
	}
	return QueryResponse{
		RequestID:       body.RequestID,
		ClientContextID: body.ClientContextID,
		Status:          body.Status,
		Rows:            rows,
		Signature:       []byte(body.Signature),
		Profile:         []byte(body.Profile),
		Warnings:        body.Warnings,
		Metrics:         body.Metrics,
	}, nil
}

// queryError classifies a query-service error payload by its documented
// code ranges (spec.md §7's Query/Analytics/Search/View class).
func queryError(qe wire.QueryError) error {
	switch {
	case qe.Code >= 4000 && qe.Code < 5000:
		return cberr.New(cberr.ErrPlanningFailure, qe.Message)
	case qe.Code >= 5000 && qe.Code < 6000:
		return cberr.New(cberr.ErrIndexFailure, qe.Message)
	case qe.Code >= 1080 && qe.Code < 1081:
		return cberr.New(cberr.ErrAmbiguousTimeout, qe.Message)
	case qe.Code == 1065:
		return cberr.New(cberr.ErrPreparedStatementFailure, qe.Message)
	case qe.Code >= 12000 && qe.Code < 13000:
		return cberr.New(cberr.ErrDmlFailure, qe.Message)
	default:
		return cberr.New(cberr.ErrInternalServerFailure, qe.Message)
	}
}
