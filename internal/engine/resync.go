package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/extract"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/store"
)

// Resync brings the Reference table for one note in line with its current
// content. It stamps a fresh version itself; debounced callers go through
// the Settler instead, which stamps at notification time so a stale resync
// is discarded before commit.
func (e *Engine) Resync(noteID, content string) error {
	return e.resync(noteID, content, e.Bump(noteID))
}

// resync is one atomic pass: rows whose literal marker vanished are deleted,
// still-present broken rows are re-resolved, new markers are inserted, and
// every reference resolved during this pass (and only this pass) is
// projected into an edge. Idempotent: identical content yields zero writes.
func (e *Engine) resync(noteID, content string, version uint64) error {
	e.gate.RLock()
	defer e.gate.RUnlock()

	occs := extract.Distinct(extract.Scan(content))

	tx, err := e.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	existing, err := tx.RefsBySource(noteID)
	if err != nil {
		return fmt.Errorf("engine: resync %s: %w", noteID, err)
	}

	current := make(map[string]extract.Occurrence, len(occs))
	for _, o := range occs {
		current[o.Title] = o
	}

	// Drop rows whose literal marker disappeared from the content.
	kept := existing[:0:0]
	for _, r := range existing {
		if _, ok := current[r.TargetTitle]; !ok {
			if err := tx.DeleteRef(r.ID); err != nil {
				return fmt.Errorf("engine: resync %s: %w", noteID, err)
			}
			continue
		}
		kept = append(kept, r)
	}

	titles, err := tx.NoteTitles()
	if err != nil {
		return fmt.Errorf("engine: resync %s: %w", noteID, err)
	}

	var newlyResolved []models.Reference

	// Re-resolve still-present broken rows and refresh stale positions.
	for _, r := range kept {
		occ := current[r.TargetTitle]
		if occ.Position != r.Position {
			if err := tx.SetRefPosition(r.ID, occ.Position); err != nil {
				return fmt.Errorf("engine: resync %s: %w", noteID, err)
			}
		}
		if !r.Resolved() {
			if targetID := resolve(titles, r.TargetTitle); targetID != "" {
				if err := tx.SetRefTarget(r.ID, targetID, r.TargetTitle); err != nil {
					return fmt.Errorf("engine: resync %s: %w", noteID, err)
				}
				r.TargetID = targetID
				newlyResolved = append(newlyResolved, r)
			}
		}
		delete(current, r.TargetTitle)
	}

	// Insert rows for markers with no existing row, resolved or broken.
	for _, occ := range occs {
		if _, pending := current[occ.Title]; !pending {
			continue
		}
		ref := models.Reference{
			ID:          uuid.NewString(),
			SourceID:    noteID,
			TargetID:    resolve(titles, occ.Title),
			TargetTitle: occ.Title,
			Position:    occ.Position,
			RelType:     models.RelReference,
			CreatedAt:   time.Now(),
		}
		if err := tx.InsertRef(ref); err != nil {
			return fmt.Errorf("engine: resync %s: %w", noteID, err)
		}
		if ref.Resolved() {
			newlyResolved = append(newlyResolved, ref)
		}
	}

	for _, ref := range newlyResolved {
		if err := project(tx, ref); err != nil {
			return fmt.Errorf("engine: resync %s: %w", noteID, err)
		}
	}

	// Supersession check: a newer content snapshot arrived while this
	// resync was in flight. Its writes must not clobber the newer state.
	if e.currentVersion(noteID) != version {
		e.logger.Debug("resync superseded before commit",
			slog.String("note_id", noteID),
			slog.Uint64("version", version))
		return apperr.ErrStaleResync
	}

	return tx.Commit()
}

// project creates an edge for a resolved reference unless one already exists
// for the ordered (source, target) pair. Never deletes, never runs for
// broken references; edge lifecycle beyond creation belongs to the canvas.
func project(tx *store.Tx, ref models.Reference) error {
	exists, err := tx.EdgeExists(ref.SourceID, ref.TargetID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return tx.InsertEdge(models.Edge{
		ID:        uuid.NewString(),
		SourceID:  ref.SourceID,
		TargetID:  ref.TargetID,
		RelType:   ref.RelType,
		Label:     ref.TargetTitle,
		CreatedAt: time.Now(),
	})
}

// RebuildRefs re-derives Reference rows from the content of the given notes
// inside an import transaction. Resolution runs against the transaction's
// final note set. No edges are projected: imported edges come from the
// bundle itself. Returns the number of rows written.
func (e *Engine) RebuildRefs(tx *store.Tx, notes []models.Note) (int, error) {
	titles, err := tx.NoteTitles()
	if err != nil {
		return 0, fmt.Errorf("engine: rebuild refs: %w", err)
	}
	written := 0
	for _, n := range notes {
		for _, occ := range extract.Distinct(extract.Scan(n.Content)) {
			ref := models.Reference{
				ID:          uuid.NewString(),
				SourceID:    n.ID,
				TargetID:    resolve(titles, occ.Title),
				TargetTitle: occ.Title,
				Position:    occ.Position,
				RelType:     models.RelReference,
				CreatedAt:   time.Now(),
			}
			if err := tx.InsertRef(ref); err != nil {
				return written, fmt.Errorf("engine: rebuild refs: %w", err)
			}
			written++
		}
	}
	return written, nil
}
