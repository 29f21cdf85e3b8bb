// Package api exposes the dispatch and import engines over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-dispatch/internal/dispatch"
	"github.com/ignite/campaign-dispatch/internal/importer"
	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
)

// Deps carries the services the API routes onto.
type Deps struct {
	Dispatch *dispatch.Service
	Jobs     *importer.Jobs
	Chunks   *importer.ChunkProcessor
	Mirror   *importer.ProgressMirror
}

// NewRouter builds the full route tree with standard middleware.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		NewCampaignHandlers(deps.Dispatch).RegisterRoutes(r)
		NewImportHandlers(deps.Jobs, deps.Chunks, deps.Mirror).RegisterRoutes(r)
	})

	return r
}
