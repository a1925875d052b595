// Package dataapi provides the structured-query backends that hold note records.
package dataapi

import (
	"context"

	"github.com/starford/notebox/internal/models"
)

// API is the record store the session controller talks to.
type API interface {
	// List returns every note record. Image holds the stored reference, never a URL.
	List(ctx context.Context) ([]models.Note, error)
	// Create stores a record and returns it with its assigned id.
	Create(ctx context.Context, in models.NoteInput) (models.Note, error)
	// Delete removes the record with the given id.
	Delete(ctx context.Context, id string) error
}

var (
	_ API = (*GraphQL)(nil)
	_ API = (*SQLite)(nil)
)
