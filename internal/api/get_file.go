package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/wopi"
)

// GetFileHandler serves GET /wopi/files/{fileId}/contents.
func GetFileHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fileID := r.PathValue("fileId")

		body, info, err := srv.Files.Retrieve(r.Context(), fileID)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		} else if err != nil {
			srv.Logger.Error("error retrieving file",
				"method", r.Method,
				"path", r.URL.Path,
				"file_id", fileID,
				"error", err,
			)
			http.Error(w, "Error retrieving file", http.StatusInternalServerError)
			return
		}
		defer body.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		w.Header().Set(wopi.HeaderItemVersion, info.Version)
		w.WriteHeader(http.StatusOK)

		if _, err := io.Copy(w, body); err != nil {
			// Headers are gone; all that is left is to log it.
			srv.Logger.Error("error streaming file",
				"file_id", fileID,
				"error", err,
			)
		}
	})
}
