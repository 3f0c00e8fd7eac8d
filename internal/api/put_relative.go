package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/auth"
	"github.com/hashicorp-forge/wopihost/pkg/events"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/wopi"
)

// PutRelativeFileResponse describes the file a "save as" wrote.
type PutRelativeFileResponse struct {
	Name        string `json:"Name"`
	URL         string `json:"Url"`
	HostViewURL string `json:"HostViewUrl,omitempty"`
	HostEditURL string `json:"HostEditUrl,omitempty"`
}

// putRelativeFile writes the request body to a new file next to the one in
// the path ("save as"). Only the file conversion flow uses it.
func putRelativeFile(w http.ResponseWriter, r *http.Request, srv server.Server) {
	fileID := r.PathValue("fileId")
	ctx := r.Context()
	user := auth.MustGetUser(ctx)

	errResp := func(httpCode int, userErrMsg, logErrMsg string, err error) {
		srv.Logger.Error(logErrMsg,
			"method", r.Method,
			"path", r.URL.Path,
			"file_id", fileID,
			"error", err,
		)
		http.Error(w, userErrMsg, httpCode)
	}

	if !wopi.HeaderFlag(r.Header, wopi.HeaderFileConversion) {
		http.Error(w, "PutRelativeFile is only supported for file conversion", http.StatusNotImplemented)
		return
	}

	suggested := r.Header.Get(wopi.HeaderSuggestedTarget)
	relative := r.Header.Get(wopi.HeaderRelativeTarget)
	if (suggested == "") == (relative == "") {
		http.Error(w, "Exactly one of X-WOPI-SuggestedTarget and X-WOPI-RelativeTarget is required",
			http.StatusBadRequest)
		return
	}

	if !requireWrite(w, r, srv, fileID) {
		return
	}

	source, err := srv.Files.Stat(ctx, fileID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	} else if err != nil {
		errResp(http.StatusInternalServerError,
			"Error getting file info", "error getting file info", err)
		return
	}

	var (
		target  *storage.FileInfo
		created bool
	)
	if relative != "" {
		decoded, err := wopi.DecodeUTF7(relative)
		if err != nil {
			badTarget(w, srv, r, fileID, err)
			return
		}
		if err := wopi.ValidateName(decoded); err != nil {
			badTarget(w, srv, r, fileID, err)
			return
		}
		name := decoded

		existing, err := srv.Files.FindByName(ctx, source.OwnerID, name)
		switch {
		case err == nil:
			if !strings.EqualFold(r.Header.Get(wopi.HeaderOverwriteRelative), "true") {
				nameTaken(w, srv, r, fileID, source.OwnerID, name)
				return
			}
			if !overwriteAllowed(w, r, srv, existing.ID) {
				return
			}
			target, err = srv.Files.Store(ctx, existing.ID, r.Body, lockUnchanged(srv, existing.ID, ""))
			var changed *lockChangedError
			if errors.As(err, &changed) {
				conflict(w, srv, r, existing.ID, changed.current, reasonLocked)
				return
			} else if err != nil {
				errResp(http.StatusInternalServerError,
					"Error storing file", "error overwriting relative target", err)
				return
			}
		case errors.Is(err, storage.ErrNotFound):
			target, err = srv.Files.CreateRelative(ctx, fileID, name, r.Body, storage.CreateOptions{})
			if errors.Is(err, storage.ErrNameExists) {
				nameTaken(w, srv, r, fileID, source.OwnerID, name)
				return
			} else if err != nil {
				errResp(http.StatusInternalServerError,
					"Error storing file", "error creating relative target", err)
				return
			}
			created = true
		default:
			errResp(http.StatusInternalServerError,
				"Error looking up target", "error looking up relative target", err)
			return
		}
	} else {
		decoded, err := wopi.DecodeUTF7(suggested)
		if err != nil {
			badTarget(w, srv, r, fileID, err)
			return
		}
		name := wopi.SuggestedName(source.Name, decoded)
		if err := wopi.ValidateName(name); err != nil {
			badTarget(w, srv, r, fileID, err)
			return
		}

		target, err = srv.Files.CreateRelative(ctx, fileID, name, r.Body,
			storage.CreateOptions{AdjustName: true})
		if err != nil {
			errResp(http.StatusInternalServerError,
				"Error storing file", "error creating suggested target", err)
			return
		}
		created = true
	}

	token, err := srv.Tokens.ReissueCarryingExpiry(ctx, user.Name, target.ID,
		r.URL.Query().Get("access_token"))
	if err != nil {
		errResp(http.StatusInternalServerError,
			"Error issuing access token", "error issuing access token for relative target", err)
		return
	}

	e := events.Event{
		Type:    events.FileUpdated,
		FileID:  target.ID,
		User:    user.Name,
		Version: target.Version,
		Name:    target.Name,
	}
	if created {
		e.Type = events.FileCreated
		e.SourceFileID = fileID
	}
	publish(ctx, srv, e)

	srv.Logger.Info("stored relative file",
		"file_id", fileID,
		"target_file_id", target.ID,
		"name", target.Name,
		"created", created,
	)

	w.Header().Set(wopi.HeaderItemVersion, target.Version)
	resp := PutRelativeFileResponse{
		Name: target.Name,
		URL:  wopiSrc(srv, target.ID) + "?access_token=" + url.QueryEscape(token.Value),
	}
	if tmpl := srv.Config.Server.HostViewURL; tmpl != "" {
		resp.HostViewURL = hostURL(tmpl, target.ID)
	}
	if tmpl := srv.Config.Server.HostEditURL; tmpl != "" {
		resp.HostEditURL = hostURL(tmpl, target.ID)
	}
	respondJSON(w, srv, resp)
}

// overwriteAllowed checks that an existing relative target may be replaced.
func overwriteAllowed(w http.ResponseWriter, r *http.Request, srv server.Server, targetID string) bool {
	current, err := srv.Locks.GetLock(r.Context(), targetID)
	if err != nil {
		srv.Logger.Error("error getting lock",
			"method", r.Method,
			"path", r.URL.Path,
			"file_id", targetID,
			"error", err,
		)
		http.Error(w, "Error getting lock", http.StatusInternalServerError)
		return false
	}
	if current != "" {
		conflict(w, srv, r, targetID, current, reasonLocked)
		return false
	}
	return requireWrite(w, r, srv, targetID)
}

// nameTaken responds 409 with a free variant of name.
func nameTaken(w http.ResponseWriter, srv server.Server, r *http.Request, fileID, ownerID, name string) {
	if valid, err := srv.Files.AvailableName(r.Context(), ownerID, name); err == nil {
		w.Header().Set(wopi.HeaderValidRelativeTarget, wopi.EncodeUTF7(valid))
	} else {
		srv.Logger.Warn("no available name for relative target",
			"file_id", fileID,
			"error", err,
		)
	}
	w.Header().Set(wopi.HeaderLock, "")
	w.WriteHeader(http.StatusConflict)
}

func badTarget(w http.ResponseWriter, srv server.Server, r *http.Request, fileID string, err error) {
	srv.Logger.Warn("invalid relative target",
		"method", r.Method,
		"path", r.URL.Path,
		"file_id", fileID,
		"error", err,
	)
	w.Header().Set(wopi.HeaderInvalidFileNameError, err.Error())
	http.Error(w, "Invalid target name", http.StatusBadRequest)
}
