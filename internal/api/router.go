package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notebox/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(ctrl *session.Controller, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(ctrl)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Post("/notes/refresh", h.RefreshNotes)
	r.Delete("/notes/{id}", h.DeleteNote)

	r.Post("/signout", h.SignOut)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
