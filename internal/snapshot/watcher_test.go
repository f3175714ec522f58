package snapshot

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeBundle(t *testing.T, dir, name string, b *Bundle) string {
	t.Helper()
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitForFile(t *testing.T, path string) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestWatchInbox_ImportsDroppedBundle(t *testing.T) {
	im, db := testImporter(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = WatchInbox(ctx, im, dir, PolicyMerge, slog.Default())
	}()
	time.Sleep(100 * time.Millisecond) // let the watcher attach

	path := writeBundle(t, dir, "bundle.json", validBundle())

	if !waitForFile(t, path+".done") {
		t.Fatal("bundle was not processed")
	}
	if n, _ := db.CountNotes(); n != 2 {
		t.Errorf("notes = %d, want 2", n)
	}

	cancel()
	<-done
}

func TestWatchInbox_SetsAsideInvalidBundle(t *testing.T) {
	im, db := testImporter(t)
	dir := t.TempDir()

	bad := validBundle()
	bad.Application = "not-ours"
	// Already present at startup: the initial scan handles it.
	path := writeBundle(t, dir, "bad.json", bad)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = WatchInbox(ctx, im, dir, PolicyMerge, slog.Default())
	}()

	if !waitForFile(t, path+".failed") {
		t.Fatal("invalid bundle was not set aside")
	}
	if n, _ := db.CountNotes(); n != 0 {
		t.Errorf("notes = %d, want 0 after rejected import", n)
	}

	cancel()
	<-done
}
