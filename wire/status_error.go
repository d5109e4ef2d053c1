/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import "github.com/richardsmedley/cbcore/cberr"

// StatusError maps a response Status to the uniform cberr taxonomy of
// spec.md §7, consulting em (if non-nil) first for the "auth"/"temp"
// attributes it authoritatively carries per spec.md §3 ("ErrorMap ...
// Authoritative source of retry classification").
func StatusError(status Status, em *ErrorMap) error {
	if entry, ok := em.Lookup(status); ok {
		if entry.HasAttr("auth") {
			return cberr.New(cberr.ErrAuthenticationFailure, entry.Name)
		}
		if entry.HasAttr("temp") {
			return cberr.New(cberr.ErrTemporaryFailure, entry.Name)
		}
	}
	switch status {
	case StatusKeyNotFound:
		return cberr.New(cberr.ErrDocumentNotFound, "")
	case StatusKeyExists:
		return cberr.New(cberr.ErrDocumentExists, "")
	case StatusValueTooLarge:
		return cberr.New(cberr.ErrValueTooLarge, "")
	case StatusLocked:
		return cberr.New(cberr.ErrDocumentLocked, "")
	case StatusNotMyVBucket:
		return cberr.New(cberr.ErrInternalServerFailure, "not_my_vbucket")
	case StatusNoBucket:
		return cberr.New(cberr.ErrBucketNotFound, "")
	case StatusAuthStale, StatusAuthError:
		return cberr.New(cberr.ErrAuthenticationFailure, "")
	case StatusNoAccess:
		return cberr.New(cberr.ErrAuthenticationFailure, "no_access")
	case StatusUnknownCommand, StatusNotSupported:
		return cberr.New(cberr.ErrUnsupportedOperation, "")
	case StatusBusy, StatusTempFailure:
		return cberr.New(cberr.ErrTemporaryFailure, "")
	case StatusUnknownCollection:
		return cberr.New(cberr.ErrCollectionNotFound, "")
	case StatusNotMyCollection:
		return cberr.New(cberr.ErrCollectionNotFound, "not_my_collection")
	case StatusDurabilityInvalidLevel:
		return cberr.New(cberr.ErrDurabilityLevelInvalid, "")
	case StatusDurabilityImpossible:
		return cberr.New(cberr.ErrDurabilityImpossible, "")
	case StatusSyncWriteAmbiguous:
		return cberr.New(cberr.ErrDurabilityAmbiguous, "")
	case StatusSyncWriteInProgress:
		return cberr.New(cberr.ErrSyncWriteInProgress, "")
	case StatusSyncWriteReCommitInProgress:
		return cberr.New(cberr.ErrSyncWriteReCommitInProgress, "")
	case StatusSubdocPathNotFound:
		return cberr.New(cberr.ErrPathNotFound, "")
	case StatusSubdocPathMismatch:
		return cberr.New(cberr.ErrPathMismatch, "")
	case StatusSubdocPathInvalid:
		return cberr.New(cberr.ErrPathInvalid, "")
	case StatusSubdocPathTooBig:
		return cberr.New(cberr.ErrPathTooBig, "")
	case StatusSubdocXattrUnknownMacro:
		return cberr.New(cberr.ErrXattrUnknownMacro, "")
	case StatusSubdocXattrInvalidFlagCombo, StatusSubdocXattrInvalidKeyCombo:
		return cberr.New(cberr.ErrXattrInvalid, "")
	case StatusInvalidArgs:
		return cberr.New(cberr.ErrInvalidArgument, "")
	case StatusNotInitialized:
		return cberr.New(cberr.ErrServiceNotAvailable, "not_initialized")
	case StatusInternal:
		return cberr.New(cberr.ErrInternalServerFailure, "")
	case StatusRangeError:
		return cberr.New(cberr.ErrInvalidArgument, "range_error")
	case StatusRollback:
		return cberr.New(cberr.ErrTemporaryFailure, "rollback")
	}
	return cberr.New(cberr.ErrInternalServerFailure, status.String())
}
