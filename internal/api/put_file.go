package api

import (
	"errors"
	"net/http"

	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/auth"
	"github.com/hashicorp-forge/wopihost/pkg/events"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/wopi"
)

// PutFileResponse is returned after a successful PutFile.
type PutFileResponse struct {
	LastModifiedTime string `json:"LastModifiedTime"`
}

// PutFileHandler serves POST /wopi/files/{fileId}/contents.
//
// An unlocked file only accepts its first write, while its stored size is
// zero. A locked file accepts writes that carry the current lock, or that are
// flagged as the save an editor sends while closing.
func PutFileHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fileID := r.PathValue("fileId")
		ctx := r.Context()

		errResp := func(httpCode int, userErrMsg, logErrMsg string, err error) {
			srv.Logger.Error(logErrMsg,
				"method", r.Method,
				"path", r.URL.Path,
				"file_id", fileID,
				"error", err,
			)
			http.Error(w, userErrMsg, httpCode)
		}

		if wopi.Override(r.Header.Get(wopi.HeaderOverride)) != wopi.OverridePut {
			http.Error(w, "Unsupported X-WOPI-Override", http.StatusBadRequest)
			return
		}

		if !requireWrite(w, r, srv, fileID) {
			return
		}

		current, err := srv.Locks.GetLock(ctx, fileID)
		if err != nil {
			errResp(http.StatusInternalServerError,
				"Error getting lock", "error getting lock", err)
			return
		}

		if current == "" {
			info, err := srv.Files.Stat(ctx, fileID)
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "File not found", http.StatusNotFound)
				return
			} else if err != nil {
				errResp(http.StatusInternalServerError,
					"Error getting file info", "error getting file info", err)
				return
			}
			if info.Size != 0 {
				conflict(w, srv, r, fileID, "", reasonNotLocked)
				return
			}
		} else if r.Header.Get(wopi.HeaderLock) != current {
			if !wopi.IsExitSave(r.Header) {
				conflict(w, srv, r, fileID, current, reasonLockMismatch)
				return
			}
			srv.Logger.Info("accepting exit save without matching lock",
				"file_id", fileID,
			)
		}

		info, err := srv.Files.Store(ctx, fileID, r.Body, lockUnchanged(srv, fileID, current))
		var changed *lockChangedError
		if errors.As(err, &changed) {
			reason := reasonLockMismatch
			if changed.current == "" {
				reason = reasonNotLocked
			}
			conflict(w, srv, r, fileID, changed.current, reason)
			return
		} else if err != nil {
			errResp(http.StatusInternalServerError,
				"Error storing file", "error storing file", err)
			return
		}

		user := auth.MustGetUser(ctx)
		srv.Logger.Info("stored file",
			"file_id", fileID,
			"user", user.Name,
			"version", info.Version,
			"size", info.Size,
		)
		publish(ctx, srv, events.Event{
			Type:    events.FileUpdated,
			FileID:  fileID,
			User:    user.Name,
			Version: info.Version,
			Name:    info.Name,
		})

		w.Header().Set(wopi.HeaderItemVersion, info.Version)
		respondJSON(w, srv, PutFileResponse{
			LastModifiedTime: wopi.FormatTime(info.ModifiedAt),
		})
	})
}
