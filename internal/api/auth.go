package api

import (
	"errors"
	"net/http"

	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/auth"
	"github.com/hashicorp-forge/wopihost/pkg/proof"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/wopi"
)

// WOPIAuthMiddleware authenticates editor requests to the /wopi/ routes.
// The access token must have been issued for the file in the path, and the
// request must carry a valid proof signature from a configured editor.
//
// Usage:
//
//	handler := WOPIAuthMiddleware(srv, CheckFileInfoHandler(srv))
func WOPIAuthMiddleware(srv server.Server, next http.Handler) http.Handler {
	return tokenAuth(srv, proofCheck(srv, next))
}

// tokenAuth resolves the access_token query parameter and binds the user it
// was issued to into the request context.
func tokenAuth(srv server.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fileID := r.PathValue("fileId")

		username, ok := srv.Tokens.Resolve(r.Context(), r.URL.Query().Get("access_token"), fileID)
		if !ok {
			srv.Logger.Warn("rejected access token",
				"method", r.Method,
				"path", r.URL.Path,
				"file_id", fileID,
			)
			http.Error(w, "Invalid access token", http.StatusUnauthorized)
			return
		}

		user, err := srv.Users.LookupUser(r.Context(), username)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				srv.Logger.Warn("access token user not found",
					"method", r.Method,
					"path", r.URL.Path,
					"file_id", fileID,
					"user", username,
				)
				http.Error(w, "Invalid access token", http.StatusUnauthorized)
				return
			}
			srv.Logger.Error("error looking up user",
				"method", r.Method,
				"path", r.URL.Path,
				"user", username,
				"error", err,
			)
			http.Error(w, "Error authenticating request", http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// proofCheck verifies the proof signature of the request against the keys of
// every configured editor. It is a no-op when proof checks are disabled.
func proofCheck(srv server.Server, next http.Handler) http.Handler {
	if srv.Proof == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := proof.Request{
			AccessToken: r.URL.Query().Get("access_token"),
			URL:         externalURL(srv, r),
			Timestamp:   r.Header.Get(wopi.HeaderTimestamp),
			Proof:       r.Header.Get(wopi.HeaderProof),
			OldProof:    r.Header.Get(wopi.HeaderProofOld),
		}

		for _, keys := range srv.Editors.KeyPairs() {
			if srv.Proof.Validate(req, keys) {
				next.ServeHTTP(w, r)
				return
			}
		}

		srv.Logger.Error("proof validation failed",
			"method", r.Method,
			"path", r.URL.Path,
			"url", req.URL,
			"file_id", r.PathValue("fileId"),
			"override", r.Header.Get(wopi.HeaderOverride),
			"timestamp", req.Timestamp,
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
		http.Error(w, "Proof validation failed", http.StatusInternalServerError)
	})
}

// requireWrite responds and returns false unless the authenticated user may
// write fileID.
func requireWrite(w http.ResponseWriter, r *http.Request, srv server.Server, fileID string) bool {
	user := auth.MustGetUser(r.Context())

	ok, err := srv.Authorizer.CanAccess(r.Context(), user, fileID, storage.ModeWrite)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "File not found", http.StatusNotFound)
		return false
	case err != nil:
		srv.Logger.Error("error checking write permission",
			"method", r.Method,
			"path", r.URL.Path,
			"file_id", fileID,
			"user", user.Name,
			"error", err,
		)
		http.Error(w, "Error checking permissions", http.StatusInternalServerError)
		return false
	case !ok:
		srv.Logger.Warn("write permission denied",
			"method", r.Method,
			"path", r.URL.Path,
			"file_id", fileID,
			"user", user.Name,
		)
		http.Error(w, "Write permission denied", http.StatusUnauthorized)
		return false
	}
	return true
}

// HostAuthMiddleware binds the user named by the trusted identity header into
// the request context. The header is set by the authenticating proxy in
// front of the host pages.
func HostAuthMiddleware(srv server.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := srv.Config.Server.IdentityHeader
		username := r.Header.Get(header)
		if username == "" {
			srv.Logger.Warn("missing identity header",
				"method", r.Method,
				"path", r.URL.Path,
				"header", header,
			)
			http.Error(w, "No authorization information for request", http.StatusUnauthorized)
			return
		}

		user, err := srv.Users.LookupUser(r.Context(), username)
		if errors.Is(err, storage.ErrNotFound) {
			srv.Logger.Warn("unknown user",
				"method", r.Method,
				"path", r.URL.Path,
				"user", username,
			)
			http.Error(w, "Unknown user", http.StatusUnauthorized)
			return
		} else if err != nil {
			srv.Logger.Error("error looking up user",
				"method", r.Method,
				"path", r.URL.Path,
				"user", username,
				"error", err,
			)
			http.Error(w, "Error authenticating request", http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}
