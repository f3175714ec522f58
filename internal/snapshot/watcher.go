package snapshot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchInbox watches a directory for snapshot bundle files and imports each
// one under the given policy. A file is picked up once its writes settle;
// processed files are renamed aside (".done" on success, ".failed" on any
// validation or apply error) so a crash never re-imports half-seen input.
// Files already in the directory at startup are processed first. Runs until
// ctx is cancelled.
func WatchInbox(ctx context.Context, im *Importer, dir string, policy Policy, logger *slog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("import inbox: watching", slog.String("dir", dir), slog.String("policy", string(policy)))

	processExisting(im, dir, policy, logger)

	// Writers may deliver a bundle in several chunks; a short settle
	// timer batches the Create/Write events for one file.
	pending := make(map[string]struct{})
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	schedule := func(path string) {
		pending[path] = struct{}{}
		if settleTimer == nil {
			settleTimer = time.NewTimer(200 * time.Millisecond)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("import inbox: stopped")
			return nil

		case <-settleCh:
			for path := range pending {
				delete(pending, path)
				processFile(im, path, policy, logger)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			schedule(ev.Name)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("import inbox: watch error", slog.String("error", watchErr.Error()))
		}
	}
}

func processExisting(im *Importer, dir string, policy Policy, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("import inbox: initial scan failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		processFile(im, filepath.Join(dir, e.Name()), policy, logger)
	}
}

func processFile(im *Importer, path string, policy Policy, logger *slog.Logger) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("import inbox: read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	b, err := Parse(raw)
	if err != nil {
		logger.Warn("import inbox: invalid bundle", slog.String("path", path), slog.String("error", err.Error()))
		setAside(path, ".failed", logger)
		return
	}

	res, err := im.Apply(b, policy)
	if err != nil {
		logger.Error("import inbox: apply failed", slog.String("path", path), slog.String("error", err.Error()))
		setAside(path, ".failed", logger)
		return
	}

	logger.Info("import inbox: bundle applied",
		slog.String("path", path),
		slog.Int("notes_added", res.NotesAdded),
		slog.Int("edges_added", res.EdgesAdded),
		slog.Int("tags_added", res.TagsAdded))
	setAside(path, ".done", logger)
}

func setAside(path, suffix string, logger *slog.Logger) {
	if err := os.Rename(path, path+suffix); err != nil {
		logger.Warn("import inbox: rename failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}
