package api

import (
	"errors"
	"net/http"

	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/auth"
	"github.com/hashicorp-forge/wopihost/pkg/editor"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
)

// HostActionResponse is what a host page needs to launch an editor on a file.
type HostActionResponse struct {
	ActionURL      string `json:"actionUrl"`
	AccessToken    string `json:"accessToken"`
	AccessTokenTTL int64  `json:"accessTokenTtl"`
	FavIconURL     string `json:"favIconUrl,omitempty"`
}

// SupportedExtsHandler serves GET /editors/{editor}/supportedExts with the
// default app of every extension the editor handles.
func SupportedExtsHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupEditor(srv, r)
		if !ok {
			http.Error(w, "Editor not found", http.StatusNotFound)
			return
		}
		respondJSON(w, srv, e.Discovery.SupportedExtensions())
	})
}

// HostActionHandler serves GET /editors/{editor}/{fileId}/{action}. It
// resolves the editor URL for the action and mints an access token for the
// requesting user.
func HostActionHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fileID := r.PathValue("fileId")
		action := r.PathValue("action")
		ctx := r.Context()
		user := auth.MustGetUser(ctx)

		errResp := func(httpCode int, userErrMsg, logErrMsg string, err error) {
			srv.Logger.Error(logErrMsg,
				"method", r.Method,
				"path", r.URL.Path,
				"file_id", fileID,
				"user", user.Name,
				"error", err,
			)
			http.Error(w, userErrMsg, httpCode)
		}

		e, ok := lookupEditor(srv, r)
		if !ok {
			http.Error(w, "Editor not found", http.StatusNotFound)
			return
		}

		canRead, err := srv.Authorizer.CanAccess(ctx, user, fileID, storage.ModeRead)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		} else if err != nil {
			errResp(http.StatusInternalServerError,
				"Error checking permissions", "error checking read permission", err)
			return
		}
		if !canRead {
			srv.Logger.Warn("read permission denied",
				"path", r.URL.Path,
				"file_id", fileID,
				"user", user.Name,
			)
			http.Error(w, "Read permission denied", http.StatusUnauthorized)
			return
		}

		info, err := srv.Files.Stat(ctx, fileID)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		} else if err != nil {
			errResp(http.StatusInternalServerError,
				"Error getting file info", "error getting file info", err)
			return
		}

		ext := fileExt(info.Name)
		actionURL, ok := e.ActionURL(ext, action, wopiSrc(srv, fileID))
		if !ok {
			http.Error(w, "Action not found", http.StatusNotFound)
			return
		}

		token, err := srv.Tokens.Issue(ctx, user.Name, fileID, e.Kind.String())
		if err != nil {
			errResp(http.StatusInternalServerError,
				"Error issuing access token", "error issuing access token", err)
			return
		}

		srv.Logger.Info("issued access token",
			"file_id", fileID,
			"user", user.Name,
			"editor", e.Kind,
			"action", action,
		)

		respondJSON(w, srv, HostActionResponse{
			ActionURL:      actionURL,
			AccessToken:    token.Value,
			AccessTokenTTL: token.ExpiresAtMillis(),
			FavIconURL:     e.FavIconURL(ext),
		})
	})
}

func lookupEditor(srv server.Server, r *http.Request) (*editor.Editor, bool) {
	kind, err := editor.ParseKind(r.PathValue("editor"))
	if err != nil {
		return nil, false
	}
	return srv.Editors.Get(kind)
}
