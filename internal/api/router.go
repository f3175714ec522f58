package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/othala/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Patch("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)

	// Reference neighborhood.
	r.Get("/notes/{id}/references", h.References)
	r.Get("/notes/{id}/backlinks", h.Backlinks)

	// Canvas graph and tags.
	r.Get("/graph", h.Graph)
	r.Get("/tags", h.Tags)

	// Snapshot import/export.
	r.Post("/import/validate", h.ValidateImport)
	r.Post("/import/preview", h.PreviewImport)
	r.Post("/import", h.ApplyImport)
	r.Get("/export", h.Export)

	// SSE endpoint (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
