package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir(), "http://localhost:8080/blobs/")
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func readBlob(t *testing.T, s *FS, key string) string {
	t.Helper()
	f, _, err := s.Open(key)
	if err != nil {
		t.Fatalf("Open(%q): %v", key, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestPutAndOpen(t *testing.T) {
	s := tempStore(t)
	if err := s.Put(context.Background(), "cat", strings.NewReader("meow"), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := readBlob(t, s, "cat"); got != "meow" {
		t.Errorf("content = %q", got)
	}
}

func TestPutOverwrites(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, "k", strings.NewReader("old"), "")
	if err := s.Put(ctx, "k", strings.NewReader("new"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := readBlob(t, s, "k"); got != "new" {
		t.Errorf("content = %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.Root(), tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestURL(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, "my note", strings.NewReader("x"), "")

	got, err := s.URL(ctx, "my note")
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if want := "http://localhost:8080/blobs/my%20note"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestURL_Missing(t *testing.T) {
	s := tempStore(t)
	if _, err := s.URL(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing blob")
	}
}

func TestRemove(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, "bye", strings.NewReader("x"), "")
	if err := s.Remove(ctx, "bye"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, _, err := s.Open("bye"); err == nil {
		t.Error("expected error opening removed blob")
	}
	if err := s.Remove(ctx, "bye"); err != nil {
		t.Errorf("removing a missing blob should succeed: %v", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	cases := []string{
		"../../etc/passwd",
		"../outside",
		"/etc/shadow",
		"",
		".",
		tmpPrefix + "123",
	}
	for _, k := range cases {
		if err := s.Put(ctx, k, strings.NewReader("x"), ""); err == nil {
			t.Errorf("expected error for put to %q", k)
		}
		if _, _, err := s.Open(k); err == nil {
			t.Errorf("expected error for open of %q", k)
		}
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "notebox-test-*")
	_ = f.Close()
	if _, err := NewFS(f.Name(), ""); err == nil {
		t.Error("expected error when root is a file")
	}
}
