// Package wopi holds the wire-level vocabulary shared by the host handlers:
// header names, override operations, value encodings and file name rules.
package wopi

import (
	"net/http"
	"strconv"
	"time"
)

// Request and response headers.
const (
	HeaderOverride             = "X-WOPI-Override"
	HeaderLock                 = "X-WOPI-Lock"
	HeaderOldLock              = "X-WOPI-OldLock"
	HeaderItemVersion          = "X-WOPI-ItemVersion"
	HeaderLockFailureReason    = "X-WOPI-LockFailureReason"
	HeaderSuggestedTarget      = "X-WOPI-SuggestedTarget"
	HeaderRelativeTarget       = "X-WOPI-RelativeTarget"
	HeaderOverwriteRelative    = "X-WOPI-OverwriteRelativeTarget"
	HeaderValidRelativeTarget  = "X-WOPI-ValidRelativeTarget"
	HeaderFileConversion       = "X-WOPI-FileConversion"
	HeaderProof                = "X-WOPI-Proof"
	HeaderProofOld             = "X-WOPI-ProofOld"
	HeaderTimestamp            = "X-WOPI-TimeStamp"
	HeaderExitSave             = "X-COOL-WOPI-IsExitSave"
	HeaderExitSaveLegacy       = "X-LOOL-WOPI-IsExitSave"
	HeaderInvalidFileNameError = "X-WOPI-InvalidFileNameError"
)

// Override is the operation named by X-WOPI-Override.
type Override string

const (
	OverrideLock        Override = "LOCK"
	OverrideGetLock     Override = "GET_LOCK"
	OverrideRefreshLock Override = "REFRESH_LOCK"
	OverrideUnlock      Override = "UNLOCK"
	OverridePut         Override = "PUT"
	OverridePutRelative Override = "PUT_RELATIVE"
	OverrideDelete      Override = "DELETE"
)

// LastModifiedTimeFormat renders timestamps with seven fractional digits in
// UTC, the form editors parse.
const LastModifiedTimeFormat = "2006-01-02T15:04:05.0000000Z"

// FormatTime renders t in LastModifiedTimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(LastModifiedTimeFormat)
}

// FormatVersion renders a content version for X-WOPI-ItemVersion.
func FormatVersion(v int64) string {
	return strconv.FormatInt(v, 10)
}

// HeaderFlag reports whether header is present and not "false". Editors use
// this convention for boolean request headers.
func HeaderFlag(h http.Header, header string) bool {
	values, ok := h[http.CanonicalHeaderKey(header)]
	if !ok || len(values) == 0 {
		return false
	}
	return values[0] != "false"
}

// IsExitSave reports whether the request is the save an editor sends while
// closing a document.
func IsExitSave(h http.Header) bool {
	return HeaderFlag(h, HeaderExitSave) || HeaderFlag(h, HeaderExitSaveLegacy)
}
