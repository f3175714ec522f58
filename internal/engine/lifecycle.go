package engine

import (
	"fmt"
	"strings"

	"github.com/starford/othala/internal/store"
)

// OnRename propagates a note title change to every Reference row whose
// targetTitle matches oldTitle case-insensitively, regardless of its current
// resolution state: each is re-pointed at noteID under newTitle. Broken rows
// carrying the old title become resolved; rows previously resolved to a
// different note that shared the title are stolen in favor of the renamed
// note. Edge rows are never touched. Not debounced: this must be durable
// before any dependent resync runs.
func (e *Engine) OnRename(noteID, oldTitle, newTitle string) error {
	if oldTitle == "" {
		// Creation: nothing references a title that never existed.
		return nil
	}

	e.gate.RLock()
	defer e.gate.RUnlock()

	return e.db.WithTx(func(tx *store.Tx) error {
		all, err := tx.AllRefs()
		if err != nil {
			return fmt.Errorf("engine: rename %q -> %q: %w", oldTitle, newTitle, err)
		}

		// A source note ends up with at most one row titled newTitle:
		// retitling a second matching row (a pre-existing literal
		// newTitle row, or a case variant of oldTitle retitled earlier
		// in this pass) would collide with the (source, title) unique
		// key, so colliding rows are dropped and the surviving row wins.
		taken := make(map[string]struct{})
		for _, r := range all {
			if r.TargetTitle == newTitle {
				taken[r.SourceID] = struct{}{}
			}
		}

		for _, r := range all {
			if !strings.EqualFold(r.TargetTitle, oldTitle) {
				continue
			}
			if _, dup := taken[r.SourceID]; dup && r.TargetTitle != newTitle {
				if err := tx.DeleteRef(r.ID); err != nil {
					return fmt.Errorf("engine: rename %q -> %q: %w", oldTitle, newTitle, err)
				}
				continue
			}
			if err := tx.SetRefTarget(r.ID, noteID, newTitle); err != nil {
				return fmt.Errorf("engine: rename %q -> %q: %w", oldTitle, newTitle, err)
			}
			taken[r.SourceID] = struct{}{}
		}
		return nil
	})
}

// OnDelete cascades a note removal through the Reference table: outgoing
// references are deleted with their source, incoming references transition
// to broken (target cleared, title preserved) so a future note with the
// same title re-resolves them. Edge rows are never touched. Not debounced.
func (e *Engine) OnDelete(noteID string) error {
	e.gate.RLock()
	defer e.gate.RUnlock()

	err := e.db.WithTx(func(tx *store.Tx) error {
		if err := tx.DeleteRefsBySource(noteID); err != nil {
			return fmt.Errorf("engine: delete cascade %s: %w", noteID, err)
		}
		if err := tx.BreakRefsByTarget(noteID); err != nil {
			return fmt.Errorf("engine: delete cascade %s: %w", noteID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.forgetVersion(noteID)
	return nil
}
