package blobstore

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatch_ReportsWritesAndRemovals(t *testing.T) {
	s := tempStore(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, s.Root(), logger, func(kind, key string) {
			mu.Lock()
			events = append(events, kind+":"+key)
			mu.Unlock()
		})
	}()
	time.Sleep(100 * time.Millisecond)

	seen := func(want string) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, e := range events {
				if e == want {
					return true
				}
			}
			return false
		}
	}

	if err := s.Put(ctx, "cat", strings.NewReader("meow"), ""); err != nil {
		t.Fatal(err)
	}
	eventually(t, 3*time.Second, 20*time.Millisecond, seen("written:cat"), "expected written event for cat")

	if err := s.Remove(ctx, "cat"); err != nil {
		t.Fatal(err)
	}
	eventually(t, 3*time.Second, 20*time.Millisecond, seen("removed:cat"), "expected removed event for cat")

	mu.Lock()
	for _, e := range events {
		if strings.Contains(e, tmpPrefix) {
			t.Errorf("temp file leaked into events: %s", e)
		}
	}
	mu.Unlock()

	cancel()
	<-done
}
