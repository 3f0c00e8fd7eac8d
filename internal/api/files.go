package api

import (
	"errors"
	"net/http"

	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/locks"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/wopi"
)

// Lock failure reasons.
const (
	reasonLockMismatch = "Lock mismatch"
	reasonNotLocked    = "File not locked"
	reasonLocked       = "File locked"
)

// FilesHandler serves POST /wopi/files/{fileId}, dispatching on the
// X-WOPI-Override header.
func FilesHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		override := wopi.Override(r.Header.Get(wopi.HeaderOverride))

		switch override {
		case wopi.OverrideLock,
			wopi.OverrideGetLock,
			wopi.OverrideRefreshLock,
			wopi.OverrideUnlock:
			lockOperation(w, r, srv, override)
		case wopi.OverridePutRelative:
			putRelativeFile(w, r, srv)
		case wopi.OverrideDelete:
			deleteFile(w, r, srv)
		default:
			srv.Logger.Warn("unsupported override",
				"method", r.Method,
				"path", r.URL.Path,
				"override", override,
			)
			http.Error(w, "Unsupported X-WOPI-Override", http.StatusBadRequest)
		}
	})
}

// lockOperation runs one lock transition. LOCK with X-WOPI-OldLock is a
// relock.
func lockOperation(w http.ResponseWriter, r *http.Request, srv server.Server, override wopi.Override) {
	fileID := r.PathValue("fileId")
	ctx := r.Context()

	errResp := func(httpCode int, userErrMsg, logErrMsg string, err error) {
		srv.Logger.Error(logErrMsg,
			"method", r.Method,
			"path", r.URL.Path,
			"file_id", fileID,
			"override", override,
			"error", err,
		)
		http.Error(w, userErrMsg, httpCode)
	}

	if override == wopi.OverrideGetLock {
		current, err := srv.Locks.GetLock(ctx, fileID)
		if err != nil {
			errResp(http.StatusInternalServerError,
				"Error getting lock", "error getting lock", err)
			return
		}
		w.Header().Set(wopi.HeaderLock, current)
		w.WriteHeader(http.StatusOK)
		return
	}

	value := r.Header.Get(wopi.HeaderLock)
	oldValue := r.Header.Get(wopi.HeaderOldLock)
	if value == "" {
		http.Error(w, "Missing X-WOPI-Lock header", http.StatusBadRequest)
		return
	}
	if len(value) > locks.MaxValueLength || len(oldValue) > locks.MaxValueLength {
		http.Error(w, "Lock value too long", http.StatusBadRequest)
		return
	}

	if !requireWrite(w, r, srv, fileID) {
		return
	}

	var (
		res            locks.Result
		err            error
		reportsVersion bool
	)
	switch {
	case override == wopi.OverrideLock && oldValue != "":
		res, err = srv.Locks.Relock(ctx, fileID, oldValue, value)
		reportsVersion = true
	case override == wopi.OverrideLock:
		res, err = srv.Locks.Lock(ctx, fileID, value)
		reportsVersion = true
	case override == wopi.OverrideUnlock:
		res, err = srv.Locks.Unlock(ctx, fileID, value)
		reportsVersion = true
	case override == wopi.OverrideRefreshLock:
		res, err = srv.Locks.RefreshLock(ctx, fileID, value)
	}
	if err != nil {
		errResp(http.StatusInternalServerError,
			"Error updating lock", "error updating lock", err)
		return
	}

	if !res.Acquired {
		reason := reasonLockMismatch
		if res.Current == "" {
			reason = reasonNotLocked
		}
		conflict(w, srv, r, fileID, res.Current, reason)
		return
	}

	if reportsVersion {
		info, err := srv.Files.Stat(ctx, fileID)
		if err != nil {
			errResp(http.StatusInternalServerError,
				"Error getting file info", "error getting file version", err)
			return
		}
		w.Header().Set(wopi.HeaderItemVersion, info.Version)
	}

	srv.Logger.Debug("lock operation succeeded",
		"file_id", fileID,
		"override", override,
		"relock", oldValue != "",
	)
	w.WriteHeader(http.StatusOK)
}

// deleteFile enforces the lock precondition of DeleteFile and then reports
// the operation as unsupported.
func deleteFile(w http.ResponseWriter, r *http.Request, srv server.Server) {
	fileID := r.PathValue("fileId")

	errResp := func(httpCode int, userErrMsg, logErrMsg string, err error) {
		srv.Logger.Error(logErrMsg,
			"method", r.Method,
			"path", r.URL.Path,
			"file_id", fileID,
			"error", err,
		)
		http.Error(w, userErrMsg, httpCode)
	}

	if _, err := srv.Files.Stat(r.Context(), fileID); errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	} else if err != nil {
		errResp(http.StatusInternalServerError,
			"Error getting file info", "error getting file info", err)
		return
	}

	current, err := srv.Locks.GetLock(r.Context(), fileID)
	if err != nil {
		errResp(http.StatusInternalServerError,
			"Error getting lock", "error getting lock", err)
		return
	}
	if current != "" {
		conflict(w, srv, r, fileID, current, reasonLocked)
		return
	}

	http.Error(w, "DeleteFile is not supported", http.StatusNotImplemented)
}
