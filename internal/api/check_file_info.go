package api

import (
	"errors"
	"net/http"

	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/auth"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/wopi"
)

// CheckFileInfoResponse is the property bag an editor reads before opening a
// file.
type CheckFileInfoResponse struct {
	BaseFileName     string `json:"BaseFileName"`
	OwnerID          string `json:"OwnerId"`
	Size             int64  `json:"Size"`
	UserID           string `json:"UserId"`
	UserFriendlyName string `json:"UserFriendlyName"`
	Version          string `json:"Version"`
	LastModifiedTime string `json:"LastModifiedTime"`

	SupportsUpdate             bool `json:"SupportsUpdate"`
	SupportsLocks              bool `json:"SupportsLocks"`
	SupportsGetLock            bool `json:"SupportsGetLock"`
	SupportsExtendedLockLength bool `json:"SupportsExtendedLockLength"`
	SupportsDeleteFile         bool `json:"SupportsDeleteFile"`
	SupportsRename             bool `json:"SupportsRename"`
	SupportsUserInfo           bool `json:"SupportsUserInfo"`
	IsAnonymousUser            bool `json:"IsAnonymousUser"`
	DisableExport              bool `json:"DisableExport"`

	UserCanWrite            bool `json:"UserCanWrite"`
	UserCanRename           bool `json:"UserCanRename"`
	UserCanNotWriteRelative bool `json:"UserCanNotWriteRelative"`
}

// CheckFileInfoHandler serves GET /wopi/files/{fileId}.
func CheckFileInfoHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fileID := r.PathValue("fileId")
		user := auth.MustGetUser(r.Context())

		errResp := func(httpCode int, userErrMsg, logErrMsg string, err error) {
			srv.Logger.Error(logErrMsg,
				"method", r.Method,
				"path", r.URL.Path,
				"file_id", fileID,
				"error", err,
			)
			http.Error(w, userErrMsg, httpCode)
		}

		info, err := srv.Files.Stat(r.Context(), fileID)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		} else if err != nil {
			errResp(http.StatusInternalServerError,
				"Error getting file info", "error getting file info", err)
			return
		}

		canWrite, err := srv.Authorizer.CanAccess(r.Context(), user, fileID, storage.ModeWrite)
		if err != nil {
			errResp(http.StatusInternalServerError,
				"Error checking permissions", "error checking write permission", err)
			return
		}

		resp := CheckFileInfoResponse{
			BaseFileName:     info.Name,
			OwnerID:          info.OwnerID,
			Size:             info.Size,
			UserID:           user.ID,
			UserFriendlyName: user.FriendlyName,
			Version:          info.Version,
			LastModifiedTime: wopi.FormatTime(info.ModifiedAt),

			SupportsUpdate:             true,
			SupportsLocks:              true,
			SupportsGetLock:            true,
			SupportsExtendedLockLength: true,

			UserCanWrite:            canWrite,
			UserCanRename:           canWrite,
			UserCanNotWriteRelative: !(canWrite && srv.Editors.CanConvert(fileExt(info.Name))),
		}
		if resp.UserFriendlyName == "" {
			resp.UserFriendlyName = user.Name
		}

		respondJSON(w, srv, resp)
	})
}
