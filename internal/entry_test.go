package internal

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewApplication_RequiresConfig(t *testing.T) {
	if _, err := newApplication(nil); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestOpenBackends_Local(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.DataAPI.SQLite.Path = filepath.Join(dir, "notes.db")
	cfg.Blob.FS.Root = filepath.Join(dir, "blobs")
	cfg.App.PublicURL = "http://notes.test/"

	var logs bytes.Buffer
	app, err := newApplication([]Option{WithConfig(cfg), WithLogOutput(&logs)})
	if err != nil {
		t.Fatal(err)
	}
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	logger := app.newLogger()

	be, err := app.openBackends(context.Background(), logger)
	if err != nil {
		t.Fatalf("openBackends: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })

	if be.fs == nil {
		t.Fatal("fs backend should be exposed for serving")
	}
	notes, err := be.data.List(context.Background())
	if err != nil || len(notes) != 0 {
		t.Fatalf("List = %v, %v", notes, err)
	}
	if !strings.Contains(logs.String(), `"base_url":"http://notes.test/blobs"`) {
		t.Errorf("expected trimmed base url in logs: %s", logs.String())
	}
}
