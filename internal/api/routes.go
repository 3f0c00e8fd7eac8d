package api

import (
	"net/http"

	"github.com/hashicorp-forge/wopihost/internal/server"
)

// NewMux returns the routes of the host.
func NewMux(srv server.Server) *http.ServeMux {
	mux := http.NewServeMux()

	wopiAuth := func(h http.Handler) http.Handler {
		return WOPIAuthMiddleware(srv, h)
	}
	hostAuth := func(h http.Handler) http.Handler {
		return HostAuthMiddleware(srv, h)
	}

	// Editor-facing protocol routes.
	mux.Handle("GET /wopi/files/{fileId}", wopiAuth(CheckFileInfoHandler(srv)))
	mux.Handle("GET /wopi/files/{fileId}/contents", wopiAuth(GetFileHandler(srv)))
	mux.Handle("POST /wopi/files/{fileId}", wopiAuth(FilesHandler(srv)))
	mux.Handle("POST /wopi/files/{fileId}/contents", wopiAuth(PutFileHandler(srv)))

	// Host page routes.
	mux.Handle("GET /editors/{editor}/supportedExts", SupportedExtsHandler(srv))
	mux.Handle("GET /editors/{editor}/{fileId}/{action}", hostAuth(HostActionHandler(srv)))

	mux.Handle("GET /healthz", HealthHandler())

	return mux
}

// HealthHandler responds 200 while the process is serving.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
}
