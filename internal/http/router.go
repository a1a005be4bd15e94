// Package httpapi assembles the HTTP surface: management API, internal
// dispatch API, metrics, and health.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"incentra/internal/webhook/handler"
	"incentra/pkg/platform/httputil"
	"incentra/pkg/platform/middleware/auth"
	"incentra/pkg/platform/middleware/metadata"
	"incentra/pkg/platform/middleware/requesttime"
)

// NewRouter wires all endpoints behind the shared middleware chain. The
// management API requires an org-scoped token; the internal API requires the
// "internal" scope.
func NewRouter(h *handler.Handler, verifier *auth.Verifier) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(verifier.RequireOrg)
		h.RegisterManagement(r)
	})

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(verifier.RequireScope("internal"))
		h.RegisterInternal(r)
	})

	return r
}
