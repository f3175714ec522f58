package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/models"
)

// TitleRow is the slim projection the resolver scans: every note's id and
// title in stable (created_at, id) order.
type TitleRow struct {
	ID    string
	Title string
}

const noteCols = `id, title, content, pos_x, pos_y, width, height, color, tag_ids, created_at, updated_at`

func scanNote(row interface{ Scan(...any) error }) (*models.Note, error) {
	var n models.Note
	var tagsJSON string
	err := row.Scan(&n.ID, &n.Title, &n.Content, &n.PosX, &n.PosY, &n.Width, &n.Height,
		&n.Color, &tagsJSON, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &n.TagIDs); err != nil {
		n.TagIDs = nil
	}
	return &n, nil
}

func getNote(q querier, id string) (*models.Note, error) {
	n, err := scanNote(q.QueryRow(`SELECT `+noteCols+` FROM notes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get note: %w", err)
	}
	return n, nil
}

func putNote(q querier, n *models.Note) error {
	tagsJSON, _ := json.Marshal(n.TagIDs)
	_, err := q.Exec(`
		INSERT INTO notes (`+noteCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			content    = excluded.content,
			pos_x      = excluded.pos_x,
			pos_y      = excluded.pos_y,
			width      = excluded.width,
			height     = excluded.height,
			color      = excluded.color,
			tag_ids    = excluded.tag_ids,
			updated_at = excluded.updated_at
	`, n.ID, n.Title, n.Content, n.PosX, n.PosY, n.Width, n.Height, n.Color,
		string(tagsJSON), n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: put note: %w", err)
	}
	return nil
}

func noteTitles(q querier) ([]TitleRow, error) {
	rows, err := q.Query(`SELECT id, title FROM notes ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("store: note titles: %w", err)
	}
	defer rows.Close()
	var out []TitleRow
	for rows.Next() {
		var r TitleRow
		if err := rows.Scan(&r.ID, &r.Title); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func noteIDs(q querier) (map[string]struct{}, error) {
	return idSet(q, "notes")
}

// GetNote returns one note by id, or apperr.ErrNotFound.
func (db *DB) GetNote(id string) (*models.Note, error) { return getNote(db.conn, id) }

// GetNote is the transactional variant.
func (t *Tx) GetNote(id string) (*models.Note, error) { return getNote(t.tx, id) }

// PutNote inserts or replaces a note.
func (db *DB) PutNote(n *models.Note) error { return putNote(db.conn, n) }

// PutNote is the transactional variant.
func (t *Tx) PutNote(n *models.Note) error { return putNote(t.tx, n) }

// DeleteNote removes a note row. Reference cleanup is the engine's job.
func (t *Tx) DeleteNote(id string) error {
	if _, err := t.tx.Exec(`DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete note: %w", err)
	}
	return nil
}

// ListNotes returns all notes in stable (created_at, id) order.
func (db *DB) ListNotes() ([]models.Note, error) {
	rows, err := db.conn.Query(`SELECT ` + noteCols + ` FROM notes ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list notes: %w", err)
	}
	defer rows.Close()
	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list notes: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// NoteTitles returns every note's id and title in stable resolution order.
func (db *DB) NoteTitles() ([]TitleRow, error) { return noteTitles(db.conn) }

// NoteTitles is the transactional variant.
func (t *Tx) NoteTitles() ([]TitleRow, error) { return noteTitles(t.tx) }

// NoteIDs returns the set of all note ids.
func (db *DB) NoteIDs() (map[string]struct{}, error) { return noteIDs(db.conn) }

// NoteIDs is the transactional variant.
func (t *Tx) NoteIDs() (map[string]struct{}, error) { return noteIDs(t.tx) }

// CountNotes returns the number of notes.
func (db *DB) CountNotes() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count notes: %w", err)
	}
	return n, nil
}
