// Package models defines the domain types for notebox.
package models

import "io"

// Note is a user-created record as held in the session.
//
// Image is the stored image reference (the uploaded file's name); it only
// says that a blob exists under the note's name. ImageURL is the resolved,
// displayable address and is empty until the note is hydrated.
type Note struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
	ImageURL    string `json:"imageURL,omitempty"`
}

// HasImage reports whether a blob is stored for the note.
func (n Note) HasImage() bool {
	return n.Image != ""
}

// BlobKey returns the key the note's image is stored under.
func (n Note) BlobKey() string {
	return n.Name
}

// NoteInput carries the fields of a create mutation.
type NoteInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
}

// ImageFile is an uploaded file attached to a create request.
type ImageFile struct {
	Filename    string
	ContentType string
	Body        io.Reader
}
