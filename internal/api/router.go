package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/notebase/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced against keys
// (name -> token). defaultAuthor is recorded on mutations whose request names
// no author.
func NewRouter(svc *noteservice.Service, authEnabled bool, keys map[string]string, defaultAuthor string) chi.Router {
	h := NewHandler(svc, defaultAuthor)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, keys))

	// Notes CRUD.
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/*", h.GetNote)
	r.Put("/notes/*", h.UpdateNote)
	r.Delete("/notes/*", h.DeleteNote)

	// Discovery.
	r.Get("/search", h.Search)
	r.Get("/browse", h.Browse)
	r.Get("/browse/*", h.Browse)
	r.Get("/tags", h.ListTags)
	r.Get("/tags/{tag}", h.FindByTag)
	r.Get("/backlinks/*", h.Backlinks)
	r.Get("/recent", h.Recent)

	// Versions.
	r.Get("/history/*", h.History)
	r.Get("/versions/{id}/*", h.ReadVersion)
	r.Get("/diff/*", h.Diff)
	r.Post("/restore/*", h.Restore)

	// Maintenance.
	r.Post("/rebuild", h.Rebuild)
	r.Get("/export", h.Export)
	r.Post("/import", h.Import)
	r.Post("/clear", h.Clear)

	return r
}
