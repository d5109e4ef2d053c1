/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/richardsmedley/cbcore/cberr"
)

// RetryStrategy is the server-published backoff shape for a retryable
// status code, as carried in the error map.
type RetryStrategy struct {
	Strategy    string `json:"strategy"` // "constant" | "linear" | "exponential"
	IntervalMs  int    `json:"interval"`
	AfterMs     int    `json:"after"`
	MaxDurationMs int  `json:"max-duration"`
	Ceil        int    `json:"ceil"`
}

// ErrorMapEntry describes one server status code: its attribute set and
// (if present) retry strategy.
type ErrorMapEntry struct {
	Name       string         `json:"name"`
	Desc       string         `json:"desc"`
	Attrs      []string       `json:"attrs"`
	Retry      *RetryStrategy `json:"retry,omitempty"`
}

// ErrorMap is the per-session table mapping a 16-bit status to its
// attributes, authoritative for key/value retry classification per
// spec.md §3 ("ErrorMap").
type ErrorMap struct {
	Version  int                      `json:"version"`
	Revision int                      `json:"revision"`
	Errors   map[string]ErrorMapEntry `json:"errors"`
}

// ParseErrorMap decodes the JSON body returned by GET_ERROR_MAP.
func ParseErrorMap(body []byte) (*ErrorMap, error) {
	var em ErrorMap
	if err := jsoniter.Unmarshal(body, &em); err != nil {
		return nil, cberr.Wrap(cberr.ErrParsingFailure, "error map", err)
	}
	return &em, nil
}

func statusKey(s Status) string {
	const hexDigits = "0123456789abcdef"
	var out [4]byte
	v := uint16(s)
	for i := 3; i >= 0; i-- {
		out[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(out[:])
}

// Lookup returns the entry for status, or false if the map has nothing for
// it (callers fall back to the built-in §7 classification).
func (em *ErrorMap) Lookup(status Status) (ErrorMapEntry, bool) {
	if em == nil {
		return ErrorMapEntry{}, false
	}
	e, ok := em.Errors[statusKey(status)]
	return e, ok
}

// HasAttr reports whether entry carries attr (e.g. "retry", "temp", "auth").
func (e ErrorMapEntry) HasAttr(attr string) bool {
	for _, a := range e.Attrs {
		if a == attr {
			return true
		}
	}
	return false
}
