package store

import (
	"database/sql"
	"fmt"

	"github.com/starford/othala/internal/models"
)

const refCols = `id, source_id, target_id, target_title, position, rel_type, created_at`

func scanRef(row interface{ Scan(...any) error }) (models.Reference, error) {
	var r models.Reference
	var target sql.NullString
	err := row.Scan(&r.ID, &r.SourceID, &target, &r.TargetTitle, &r.Position, &r.RelType, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	if target.Valid {
		r.TargetID = target.String
	}
	return r, nil
}

func queryRefs(q querier, query string, args ...any) ([]models.Reference, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query refs: %w", err)
	}
	defer rows.Close()
	var out []models.Reference
	for rows.Next() {
		r, err := scanRef(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan ref: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func refsBySource(q querier, sourceID string) ([]models.Reference, error) {
	return queryRefs(q, `SELECT `+refCols+` FROM refs WHERE source_id = ? ORDER BY position`, sourceID)
}

// nullable maps an empty target id to SQL NULL (broken reference).
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func insertRef(q querier, r models.Reference) error {
	_, err := q.Exec(`
		INSERT INTO refs (`+refCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SourceID, nullable(r.TargetID), r.TargetTitle, r.Position, r.RelType, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert ref: %w", err)
	}
	return nil
}

// RefsBySource returns a note's outgoing references ordered by position.
func (db *DB) RefsBySource(sourceID string) ([]models.Reference, error) {
	return refsBySource(db.conn, sourceID)
}

// RefsBySource is the transactional variant.
func (t *Tx) RefsBySource(sourceID string) ([]models.Reference, error) {
	return refsBySource(t.tx, sourceID)
}

// RefsByTarget returns every reference resolved to the given note.
func (db *DB) RefsByTarget(targetID string) ([]models.Reference, error) {
	return queryRefs(db.conn, `SELECT `+refCols+` FROM refs WHERE target_id = ?`, targetID)
}

// AllRefs returns every reference row. Rename propagation scans this set so
// title matching can be case-insensitive for the full Unicode range, which
// SQLite's NOCASE collation is not.
func (t *Tx) AllRefs() ([]models.Reference, error) {
	return queryRefs(t.tx, `SELECT `+refCols+` FROM refs`)
}

// InsertRef inserts a reference row (transactional).
func (t *Tx) InsertRef(r models.Reference) error { return insertRef(t.tx, r) }

// InsertRef inserts a reference row.
func (db *DB) InsertRef(r models.Reference) error { return insertRef(db.conn, r) }

// DeleteRef removes one reference row by id.
func (t *Tx) DeleteRef(id string) error {
	if _, err := t.tx.Exec(`DELETE FROM refs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete ref: %w", err)
	}
	return nil
}

// SetRefTarget rewrites a reference's target note and title in place. An
// empty targetID stores NULL, transitioning the reference to broken.
func (t *Tx) SetRefTarget(id, targetID, targetTitle string) error {
	_, err := t.tx.Exec(`UPDATE refs SET target_id = ?, target_title = ? WHERE id = ?`,
		nullable(targetID), targetTitle, id)
	if err != nil {
		return fmt.Errorf("store: set ref target: %w", err)
	}
	return nil
}

// SetRefPosition updates the best-effort character offset of a reference.
func (t *Tx) SetRefPosition(id string, position int) error {
	if _, err := t.tx.Exec(`UPDATE refs SET position = ? WHERE id = ?`, position, id); err != nil {
		return fmt.Errorf("store: set ref position: %w", err)
	}
	return nil
}

// DeleteRefsBySource removes every reference originating from a note.
func (t *Tx) DeleteRefsBySource(sourceID string) error {
	if _, err := t.tx.Exec(`DELETE FROM refs WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("store: delete refs by source: %w", err)
	}
	return nil
}

// BreakRefsByTarget sets target_id to NULL on every reference resolved to
// the given note, preserving target_title so a future note with the same
// title re-attaches.
func (t *Tx) BreakRefsByTarget(targetID string) error {
	if _, err := t.tx.Exec(`UPDATE refs SET target_id = NULL WHERE target_id = ?`, targetID); err != nil {
		return fmt.Errorf("store: break refs by target: %w", err)
	}
	return nil
}

// ClearRefs empties the refs table (replace-policy import).
func (t *Tx) ClearRefs() error {
	if _, err := t.tx.Exec(`DELETE FROM refs`); err != nil {
		return fmt.Errorf("store: clear refs: %w", err)
	}
	return nil
}

// CountRefs returns the number of reference rows.
func (db *DB) CountRefs() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM refs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count refs: %w", err)
	}
	return n, nil
}
