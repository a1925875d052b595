package blobstore

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Change kinds reported by Watch.
const (
	ChangeWritten = "written"
	ChangeRemoved = "removed"
)

// ChangeCallback is called for every blob written or removed under the root.
type ChangeCallback func(kind, key string)

// Watch reports blob changes under root until ctx is cancelled. It sees
// writes made through FS as well as files touched out of band.
func Watch(ctx context.Context, root string, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	logger.Info("blob watcher: started", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			logger.Info("blob watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), tmpPrefix) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("blob watcher: add dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}

			key, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			key = filepath.ToSlash(key)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				logger.Debug("blob watcher: written", slog.String("key", key))
				cb(ChangeWritten, key)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				logger.Debug("blob watcher: removed", slog.String("key", key))
				cb(ChangeRemoved, key)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("blob watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
