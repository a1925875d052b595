package api

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notebox/internal/apperr"
	"github.com/starford/notebox/internal/models"
	"github.com/starford/notebox/internal/session"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Handler holds API route handlers.
type Handler struct {
	ctrl *session.Controller
}

// NewHandler creates a new Handler.
func NewHandler(ctrl *session.Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List the notes of the session
//	@Tags			notes
//	@Produce		json
//	@Param			refresh	query		bool	false	"Reload from the backend first"
//	@Success		200		{object}	NoteListResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		h.RefreshNotes(w, r)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: h.ctrl.Notes()})
}

// RefreshNotes handles POST /api/notes/refresh.
//
//	@Summary		Reload notes and resolve their image URLs
//	@Tags			notes
//	@Produce		json
//	@Success		200		{object}	NoteListResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/refresh [post]
func (h *Handler) RefreshNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.ctrl.Refresh(r.Context())
	if err != nil {
		if !errors.Is(err, apperr.ErrHydration) {
			writeError(w, "refresh notes", err)
			return
		}
		slog.Warn("refresh notes incomplete", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Warning: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes})
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a note with an optional image
//	@Tags			notes
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			name		formData	string	true	"Note name"
//	@Param			description	formData	string	true	"Note description"
//	@Param			image		formData	file	false	"Image file"
//	@Success		201			{object}	CreateNoteResponse
//	@Failure		400			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
			return
		}
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid form"))
			return
		}
	}

	form := &session.CreateForm{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
	}

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		form.Image = imageFile(file, header)
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("invalid 'image' field"))
		return
	}

	note, err := h.ctrl.Create(r.Context(), form)
	if err != nil {
		if note.ID == "" {
			writeError(w, "create note", err)
			return
		}
		slog.Warn("refresh after create failed", slog.String("id", note.ID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusCreated, CreateNoteResponse{Note: note, Warning: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, CreateNoteResponse{Note: note})
}

func imageFile(file multipart.File, header *multipart.FileHeader) *models.ImageFile {
	return &models.ImageFile{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note and its image
//	@Tags			notes
//	@Param			id		path	string	true	"Note id"
//	@Param			name	query	string	false	"Note name (blob key)"
//	@Success		204		"Note deleted"
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := r.URL.Query().Get("name")
	if err := h.ctrl.Delete(r.Context(), id, name); err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SignOut handles POST /api/signout. Identity lives with the external
// provider; this only drops the session's notes.
//
//	@Summary		Clear the session
//	@Tags			session
//	@Success		204		"Session cleared"
//	@Security		BearerAuth
//	@Router			/signout [post]
func (h *Handler) SignOut(w http.ResponseWriter, _ *http.Request) {
	h.ctrl.Reset()
	w.WriteHeader(http.StatusNoContent)
}
