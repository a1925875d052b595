package api

import "github.com/starford/notebox/internal/models"

// Note is the note payload (aliased from the domain layer).
type Note = models.Note

// NoteListResponse wraps the session's notes. Warning is set when some
// image URLs could not be resolved.
type NoteListResponse struct {
	Notes   []Note `json:"notes" validate:"required"`
	Warning string `json:"warning,omitempty"`
}

// CreateNoteResponse is returned after a note was created. Warning is set
// when the refresh that follows the create failed.
type CreateNoteResponse struct {
	Note    Note   `json:"note" validate:"required"`
	Warning string `json:"warning,omitempty"`
}
