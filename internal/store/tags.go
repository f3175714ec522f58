package store

import (
	"encoding/json"
	"fmt"

	"github.com/starford/othala/internal/models"
)

func decodeTagIDs(tagsJSON string) []string {
	var out []string
	if err := json.Unmarshal([]byte(tagsJSON), &out); err != nil {
		return nil
	}
	return out
}

func queryTags(q querier) ([]models.Tag, error) {
	rows, err := q.Query(`SELECT id, name, usage_count FROM tags ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("store: query tags: %w", err)
	}
	defer rows.Close()
	var out []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.UsageCount); err != nil {
			return nil, fmt.Errorf("store: scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTags returns every tag ordered by name.
func (db *DB) ListTags() ([]models.Tag, error) { return queryTags(db.conn) }

// ListTags is the transactional variant.
func (t *Tx) ListTags() ([]models.Tag, error) { return queryTags(t.tx) }

// TagIDs returns the set of all tag ids.
func (db *DB) TagIDs() (map[string]struct{}, error) { return idSet(db.conn, "tags") }

// TagIDs returns the set of all tag ids.
func (t *Tx) TagIDs() (map[string]struct{}, error) { return idSet(t.tx, "tags") }

// InsertTag inserts a tag row.
func (t *Tx) InsertTag(tag models.Tag) error {
	_, err := t.tx.Exec(`INSERT INTO tags (id, name, usage_count) VALUES (?, ?, ?)`,
		tag.ID, tag.Name, tag.UsageCount)
	if err != nil {
		return fmt.Errorf("store: insert tag: %w", err)
	}
	return nil
}

// SetTagUsage overwrites a tag's cached usage count.
func (t *Tx) SetTagUsage(id string, count int) error {
	if _, err := t.tx.Exec(`UPDATE tags SET usage_count = ? WHERE id = ?`, count, id); err != nil {
		return fmt.Errorf("store: set tag usage: %w", err)
	}
	return nil
}

// NoteTagIDs returns each note's tag-id set, keyed by note id. The importer
// uses this to recompute usage counts from the final note set.
func (t *Tx) NoteTagIDs() (map[string][]string, error) {
	rows, err := t.tx.Query(`SELECT id, tag_ids FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("store: note tag ids: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var id, tagsJSON string
		if err := rows.Scan(&id, &tagsJSON); err != nil {
			return nil, err
		}
		out[id] = decodeTagIDs(tagsJSON)
	}
	return out, rows.Err()
}

// ClearTags empties the tags table (replace-policy import).
func (t *Tx) ClearTags() error {
	if _, err := t.tx.Exec(`DELETE FROM tags`); err != nil {
		return fmt.Errorf("store: clear tags: %w", err)
	}
	return nil
}

// CountTags returns the number of tags.
func (db *DB) CountTags() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM tags`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count tags: %w", err)
	}
	return n, nil
}
