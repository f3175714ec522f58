package store

import (
	"fmt"

	"github.com/starford/othala/internal/models"
)

const edgeCols = `id, source_id, target_id, rel_type, label, created_at`

func queryEdges(q querier, query string, args ...any) ([]models.Edge, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query edges: %w", err)
	}
	defer rows.Close()
	var out []models.Edge
	for rows.Next() {
		var e models.Edge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.RelType, &e.Label, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func edgeExists(q querier, sourceID, targetID string) (bool, error) {
	var n int
	err := q.QueryRow(`SELECT count(*) FROM edges WHERE source_id = ? AND target_id = ?`,
		sourceID, targetID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: edge exists: %w", err)
	}
	return n > 0, nil
}

func insertEdge(q querier, e models.Edge) error {
	_, err := q.Exec(`
		INSERT INTO edges (`+edgeCols+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.SourceID, e.TargetID, e.RelType, e.Label, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert edge: %w", err)
	}
	return nil
}

// ListEdges returns every edge.
func (db *DB) ListEdges() ([]models.Edge, error) {
	return queryEdges(db.conn, `SELECT `+edgeCols+` FROM edges ORDER BY created_at, id`)
}

// EdgeExists reports whether an edge exists for the ordered (source, target)
// pair, regardless of relationship type. This check-before-create is the
// projector's dedup key; there is deliberately no DB-level constraint since
// the canvas UI writes this table too.
func (db *DB) EdgeExists(sourceID, targetID string) (bool, error) {
	return edgeExists(db.conn, sourceID, targetID)
}

// EdgeExists is the transactional variant.
func (t *Tx) EdgeExists(sourceID, targetID string) (bool, error) {
	return edgeExists(t.tx, sourceID, targetID)
}

// InsertEdge inserts an edge row.
func (db *DB) InsertEdge(e models.Edge) error { return insertEdge(db.conn, e) }

// InsertEdge is the transactional variant.
func (t *Tx) InsertEdge(e models.Edge) error { return insertEdge(t.tx, e) }

// EdgeIDs returns the set of all edge ids.
func (t *Tx) EdgeIDs() (map[string]struct{}, error) { return idSet(t.tx, "edges") }

// EdgeIDs returns the set of all edge ids.
func (db *DB) EdgeIDs() (map[string]struct{}, error) { return idSet(db.conn, "edges") }

// ClearEdges empties the edges table (replace-policy import).
func (t *Tx) ClearEdges() error {
	if _, err := t.tx.Exec(`DELETE FROM edges`); err != nil {
		return fmt.Errorf("store: clear edges: %w", err)
	}
	return nil
}

// ClearNotes empties the notes table (replace-policy import).
func (t *Tx) ClearNotes() error {
	if _, err := t.tx.Exec(`DELETE FROM notes`); err != nil {
		return fmt.Errorf("store: clear notes: %w", err)
	}
	return nil
}

// CountEdges returns the number of edges.
func (db *DB) CountEdges() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM edges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count edges: %w", err)
	}
	return n, nil
}
