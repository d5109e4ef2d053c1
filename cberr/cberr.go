// Package cberr defines the uniform error taxonomy returned by every
// operation in the cluster runtime: common, key/value, query/analytics/
// search/view, and management error classes, all surfaced as a single
// Code carried on a typed error value.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cberr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is the stable, uniform error classification returned to callers.
// Class boundaries follow spec.md §7; never reuse a code across classes.
type Code uint32

const (
	_ Code = iota

	// Common
	ErrRequestCanceled
	ErrInvalidArgument
	ErrServiceNotAvailable
	ErrInternalServerFailure
	ErrAuthenticationFailure
	ErrTemporaryFailure
	ErrParsingFailure
	ErrCasMismatch
	ErrBucketNotFound
	ErrCollectionNotFound
	ErrUnsupportedOperation
	ErrAmbiguousTimeout
	ErrUnambiguousTimeout
	ErrFeatureNotAvailable
	ErrScopeNotFound
	ErrIndexNotFound
	ErrIndexExists
	ErrEncodingFailure
	ErrDecodingFailure
	ErrRateLimited
	ErrQuotaLimited

	// Key/Value
	ErrDocumentNotFound
	ErrDocumentExists
	ErrDocumentLocked
	ErrValueTooLarge
	ErrValueInvalid
	ErrDurabilityLevelInvalid
	ErrDurabilityImpossible
	ErrDurabilityAmbiguous
	ErrSyncWriteInProgress
	ErrSyncWriteReCommitInProgress
	ErrPathNotFound
	ErrPathMismatch
	ErrPathInvalid
	ErrPathTooBig
	ErrXattrInvalid
	ErrXattrUnknownMacro

	// Query / Analytics / Search / View
	ErrPlanningFailure
	ErrIndexFailure
	ErrPreparedStatementFailure
	ErrDmlFailure
	ErrCompilationFailure
	ErrJobQueueFull
	ErrDatasetNotFound
	ErrLinkNotFound

	// Management
	ErrUserNotFound
	ErrGroupNotFound
	ErrBucketExists
	ErrUserExists
	ErrCollectionExists
)

var names = map[Code]string{
	ErrRequestCanceled:             "request_canceled",
	ErrInvalidArgument:             "invalid_argument",
	ErrServiceNotAvailable:         "service_not_available",
	ErrInternalServerFailure:       "internal_server_failure",
	ErrAuthenticationFailure:       "authentication_failure",
	ErrTemporaryFailure:            "temporary_failure",
	ErrParsingFailure:              "parsing_failure",
	ErrCasMismatch:                 "cas_mismatch",
	ErrBucketNotFound:              "bucket_not_found",
	ErrCollectionNotFound:          "collection_not_found",
	ErrUnsupportedOperation:        "unsupported_operation",
	ErrAmbiguousTimeout:            "ambiguous_timeout",
	ErrUnambiguousTimeout:          "unambiguous_timeout",
	ErrFeatureNotAvailable:         "feature_not_available",
	ErrScopeNotFound:               "scope_not_found",
	ErrIndexNotFound:               "index_not_found",
	ErrIndexExists:                 "index_exists",
	ErrEncodingFailure:             "encoding_failure",
	ErrDecodingFailure:             "decoding_failure",
	ErrRateLimited:                 "rate_limited",
	ErrQuotaLimited:                "quota_limited",
	ErrDocumentNotFound:            "document_not_found",
	ErrDocumentExists:              "document_exists",
	ErrDocumentLocked:              "document_locked",
	ErrValueTooLarge:               "value_too_large",
	ErrValueInvalid:                "value_invalid",
	ErrDurabilityLevelInvalid:      "durability_level_invalid",
	ErrDurabilityImpossible:        "durability_impossible",
	ErrDurabilityAmbiguous:         "durability_ambiguous",
	ErrSyncWriteInProgress:         "sync_write_in_progress",
	ErrSyncWriteReCommitInProgress: "sync_write_re_commit_in_progress",
	ErrPathNotFound:                "path_not_found",
	ErrPathMismatch:                "path_mismatch",
	ErrPathInvalid:                 "path_invalid",
	ErrPathTooBig:                  "path_too_big",
	ErrXattrInvalid:                "xattr_invalid",
	ErrXattrUnknownMacro:           "xattr_unknown_macro",
	ErrPlanningFailure:             "planning_failure",
	ErrIndexFailure:                "index_failure",
	ErrPreparedStatementFailure:    "prepared_statement_failure",
	ErrDmlFailure:                  "dml_failure",
	ErrCompilationFailure:          "compilation_failure",
	ErrJobQueueFull:                "job_queue_full",
	ErrDatasetNotFound:             "dataset_not_found",
	ErrLinkNotFound:                "link_not_found",
	ErrUserNotFound:                "user_not_found",
	ErrGroupNotFound:               "group_not_found",
	ErrBucketExists:                "bucket_exists",
	ErrUserExists:                  "user_exists",
	ErrCollectionExists:            "collection_exists",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// Error is the concrete error value carried out of every operation.
// It is never thrown across a completion handler (spec.md §9) — always
// returned as the second half of a (response, error) pair.
type Error struct {
	Code    Code
	Context string // e.g. "bucket=travel-sample key=doc1"
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		if e.Context != "" {
			return fmt.Sprintf("%s: %s: %v", e.Code, e.Context, e.cause)
		}
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Context)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(code Code, context string) *Error {
	return &Error{Code: code, Context: context}
}

// Wrap attaches code to an underlying cause, preserving its stack via
// github.com/pkg/errors so the original site survives the async hop.
func Wrap(code Code, context string, cause error) *Error {
	if cause == nil {
		return New(code, context)
	}
	return &Error{Code: code, Context: context, cause: errors.WithStack(cause)}
}

// Is reports whether err is a *Error carrying code, unwrapping through
// any errors.Wrap chain.
func Is(err error, code Code) bool {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		err = errors.Unwrap(err)
	}
	return e != nil && e.Code == code
}

// CodeOf extracts the Code from err, or 0 if err is not (or does not wrap) a
// *Error.
func CodeOf(err error) Code {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		err = errors.Unwrap(err)
	}
	if e == nil {
		return 0
	}
	return e.Code
}
