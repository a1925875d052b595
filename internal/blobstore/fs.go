package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const tmpPrefix = ".notebox-tmp-"

// FS stores blobs as files under a root directory and hands out URLs
// served by the application itself.
type FS struct {
	root    string // absolute path to blob directory
	baseURL string // public prefix the blob handler is mounted at
}

// NewFS creates a new FS store rooted at the given directory.
// The directory must already exist. baseURL is the public address of the
// blob handler, e.g. "http://localhost:8080/blobs".
func NewFS(root, baseURL string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("blobstore: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("blobstore: root is not a directory: %s", abs)
	}
	return &FS{root: abs, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root returns the absolute blob directory.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves key against the root and rejects any result that
// escapes it.
func (f *FS) safePath(key string) (string, error) {
	if key == "" {
		return "", errors.New("blobstore: empty key")
	}
	cleaned := filepath.Clean(key)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("blobstore: absolute keys not allowed: %s", key)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("blobstore: resolve key: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("blobstore: key escapes root: %s", key)
	}
	if strings.HasPrefix(filepath.Base(abs), tmpPrefix) {
		return "", fmt.Errorf("blobstore: reserved key: %s", key)
	}
	return abs, nil
}

// Put atomically writes the blob: tmp file, fsync, rename.
func (f *FS) Put(_ context.Context, key string, r io.Reader, _ string) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("blobstore: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("blobstore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("blobstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("blobstore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blobstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("blobstore: rename: %w", err)
	}
	success = true
	return nil
}

// URL returns the public address of the blob. The blob must exist.
func (f *FS) URL(_ context.Context, key string) (string, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("blobstore: stat %s: %w", key, err)
	}
	return f.baseURL + "/" + url.PathEscape(key), nil
}

// Remove deletes the blob file.
func (f *FS) Remove(_ context.Context, key string) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blobstore: remove %s: %w", key, err)
	}
	return nil
}

// Open returns the blob content for serving.
func (f *FS) Open(key string) (*os.File, time.Time, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return nil, time.Time{}, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("blobstore: open %s: %w", key, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, time.Time{}, fmt.Errorf("blobstore: stat %s: %w", key, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, time.Time{}, fmt.Errorf("blobstore: open %s: %w", key, os.ErrNotExist)
	}
	return file, info.ModTime(), nil
}
