// Package engine implements the knowledge graph synchronization engine:
// extracting inline [[Title]] references from note content, resolving them
// against the note collection, projecting resolved references into canvas
// edges, and propagating renames and deletions through both representations.
package engine

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/starford/othala/internal/store"
)

// Engine owns the Reference table and the one-directional projection into
// the edges table. It never creates or deletes notes; callers notify it of
// note lifecycle events via Resync, OnRename, and OnDelete.
type Engine struct {
	db     *store.DB
	logger *slog.Logger

	// gate serializes snapshot import against the resync/rename/delete
	// pipeline: pipeline entry points hold it shared, applyImport holds
	// it exclusively.
	gate sync.RWMutex

	// versions holds the per-note monotonic stamp checked before a
	// resync commits. A stale stamp means a newer content snapshot
	// superseded the resync in flight.
	mu       sync.Mutex
	versions map[string]uint64
}

// New creates an engine over the given store.
func New(db *store.DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:       db,
		logger:   logger,
		versions: make(map[string]uint64),
	}
}

// Bump records that a newer content snapshot exists for the note and returns
// the stamp under which that snapshot must commit.
func (e *Engine) Bump(noteID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.versions[noteID]++
	return e.versions[noteID]
}

func (e *Engine) currentVersion(noteID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.versions[noteID]
}

func (e *Engine) forgetVersion(noteID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.versions, noteID)
}

// Exclusive acquires the import gate, blocking the pipeline until the
// returned release function is called.
func (e *Engine) Exclusive() (release func()) {
	e.gate.Lock()
	return e.gate.Unlock
}

// resolve returns the id of the first note whose title matches
// case-insensitively, under stable creation order, or "" when unresolved.
// Matching runs in Go (strings.EqualFold) rather than SQLite's NOCASE
// collation, which only folds ASCII.
func resolve(rows []store.TitleRow, title string) string {
	for _, r := range rows {
		if strings.EqualFold(r.Title, title) {
			return r.ID
		}
	}
	return ""
}
