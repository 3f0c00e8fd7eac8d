package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/events"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/wopi"
)

// respondJSON writes v as the JSON response body.
func respondJSON(w http.ResponseWriter, srv server.Server, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		srv.Logger.Error("error encoding response", "error", err)
	}
}

// wopiSrc is the externally visible WOPI URL of a file.
func wopiSrc(srv server.Server, fileID string) string {
	return srv.Config.Server.BaseURL + "/wopi/files/" + fileID
}

// externalURL is the URL of r as the editor sent it, which is what proof
// signatures cover.
func externalURL(srv server.Server, r *http.Request) string {
	return srv.Config.Server.BaseURL + r.URL.RequestURI()
}

// hostURL fills a host page URL template for fileID.
func hostURL(tmpl, fileID string) string {
	return strings.ReplaceAll(tmpl, "{fileId}", fileID)
}

// fileExt returns the extension of name without the leading dot.
func fileExt(name string) string {
	return strings.TrimPrefix(path.Ext(name), ".")
}

// conflict responds 409 with the current lock value, which may be empty.
func conflict(w http.ResponseWriter, srv server.Server, r *http.Request, fileID, current, reason string) {
	srv.Logger.Info("lock conflict",
		"method", r.Method,
		"path", r.URL.Path,
		"file_id", fileID,
		"override", r.Header.Get(wopi.HeaderOverride),
		"reason", reason,
	)
	w.Header().Set(wopi.HeaderLock, current)
	if reason != "" {
		w.Header().Set(wopi.HeaderLockFailureReason, reason)
	}
	w.WriteHeader(http.StatusConflict)
}

// publish sends a file event. Failures are logged and otherwise ignored.
func publish(ctx context.Context, srv server.Server, e events.Event) {
	if srv.Events == nil {
		return
	}
	if err := srv.Events.Publish(ctx, e); err != nil {
		srv.Logger.Error("error publishing file event",
			"type", e.Type,
			"file_id", e.FileID,
			"error", err,
		)
	}
}

// lockChangedError is returned by a lockUnchanged precondition.
type lockChangedError struct {
	current string
}

func (e *lockChangedError) Error() string {
	return fmt.Sprintf("lock changed to %q during upload", e.current)
}

// lockUnchanged fails the store when the lock on fileID is no longer want.
// The lock and file stores are separate, so a lock taken after this check and
// before the record update still goes unnoticed.
func lockUnchanged(srv server.Server, fileID, want string) storage.Precondition {
	return func(ctx context.Context) error {
		current, err := srv.Locks.GetLock(ctx, fileID)
		if err != nil {
			return fmt.Errorf("error getting lock: %w", err)
		}
		if current != want {
			return &lockChangedError{current: current}
		}
		return nil
	}
}
