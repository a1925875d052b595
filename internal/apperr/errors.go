// Package apperr holds the sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUpload       = errors.New("image upload failed")
	ErrHydration    = errors.New("image url resolution failed")

	// ErrPartialDelete means the record is gone but its blob could not be removed.
	ErrPartialDelete = errors.New("note deleted but image removal failed")
)
