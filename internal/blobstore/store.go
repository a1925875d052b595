// Package blobstore defines the binary image storage the session writes to.
package blobstore

import (
	"context"
	"io"
)

// Store keeps image blobs under string keys.
type Store interface {
	// Put writes the content of r under key, replacing any previous blob.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// URL returns an address a client can fetch the blob from.
	URL(ctx context.Context, key string) (string, error)
	// Remove deletes the blob. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

var (
	_ Store = (*FS)(nil)
	_ Store = (*S3)(nil)
)
