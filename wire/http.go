/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import jsoniter "github.com/json-iterator/go"

// HTTPRequest is the transport-agnostic envelope built by an operation's
// encoder for the query/analytics/search/view/management services; the
// cluster's HTTP client (fasthttp-backed, see cluster/http.go) turns it
// into a wire request.
type HTTPRequest struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse is the decoded reply handed to an operation's decoder.
type HTTPResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// JSON is the shared codec instance used for every HTTP/query body in the
// driver, configured to match the standard library's field semantics so
// decoders written against either are interchangeable.
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ScanConsistency selects how a query's execution should relate to
// in-flight mutations.
type ScanConsistency string

const (
	ScanNotBounded   ScanConsistency = "not_bounded"
	ScanRequestPlus  ScanConsistency = "request_plus"
)

// ScanVector is one partition's mutation-token coordinates, used to build
// scan_vectors for read-your-writes consistency.
type ScanVector struct {
	PartitionID  int    `json:"-"`
	SeqNo        uint64 `json:"-"`
	PartitionUUID uint64 `json:"-"`
}

// QueryRequestBody is the JSON body of a POST to /query/service, built from
// the typed request struct in package op per spec.md §4.6.
type QueryRequestBody struct {
	Statement          string                 `json:"statement"`
	ScanConsistency    ScanConsistency        `json:"scan_consistency,omitempty"`
	ScanVectors        map[string][]interface{} `json:"scan_vectors,omitempty"`
	NamedParameters    map[string]interface{} `json:"-"`
	PositionalParameters []interface{}        `json:"args,omitempty"`
	Profile            string                 `json:"profile,omitempty"`
	MaxParallelism     int                    `json:"max_parallelism,omitempty"`
	PipelineBatch      int                    `json:"pipeline_batch,omitempty"`
	PipelineCap        int                    `json:"pipeline_cap,omitempty"`
	ScanCap            int                    `json:"scan_cap,omitempty"`
	Readonly           bool                   `json:"readonly,omitempty"`
	ClientContextID    string                 `json:"client_context_id,omitempty"`
}

// MarshalJSON flattens NamedParameters into top-level "$name" fields, the
// shape the query service expects, while keeping the typed struct ergonomic
// for callers.
func (q QueryRequestBody) MarshalJSON() ([]byte, error) {
	type alias QueryRequestBody
	base, err := JSON.Marshal(alias(q))
	if err != nil {
		return nil, err
	}
	if len(q.NamedParameters) == 0 {
		return base, nil
	}
	var m map[string]interface{}
	if err := JSON.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range q.NamedParameters {
		m["$"+k] = v
	}
	return JSON.Marshal(m)
}

// QueryResponseBody is the decoded reply from the query service.
type QueryResponseBody struct {
	RequestID       string            `json:"requestID"`
	ClientContextID string            `json:"clientContextID"`
	Signature       jsoniter.RawMessage `json:"signature,omitempty"`
	Results         []jsoniter.RawMessage `json:"results"`
	Status          string            `json:"status"`
	Errors          []QueryError      `json:"errors,omitempty"`
	Warnings        []QueryError      `json:"warnings,omitempty"`
	Metrics         QueryMetrics      `json:"metrics"`
	Profile         jsoniter.RawMessage `json:"profile,omitempty"`
}

type QueryError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

type QueryMetrics struct {
	ElapsedTime   string `json:"elapsedTime"`
	ExecutionTime string `json:"executionTime"`
	ResultCount   int    `json:"resultCount"`
	ResultSize    int    `json:"resultSize"`
	MutationCount int    `json:"mutationCount,omitempty"`
	ErrorCount    int    `json:"errorCount,omitempty"`
	WarningCount  int    `json:"warningCount,omitempty"`
}
