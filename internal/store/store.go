// Package store provides the SQLite-backed persistence layer: notes, refs
// (inline references), edges (canvas connections), and tags.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	pos_x      REAL NOT NULL DEFAULT 0,
	pos_y      REAL NOT NULL DEFAULT 0,
	width      REAL NOT NULL DEFAULT 0,
	height     REAL NOT NULL DEFAULT 0,
	color      TEXT NOT NULL DEFAULT '',
	tag_ids    TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS refs (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL,
	target_id    TEXT,
	target_title TEXT NOT NULL,
	position     INTEGER NOT NULL DEFAULT 0,
	rel_type     TEXT NOT NULL DEFAULT 'references',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_id, target_title)
);

CREATE INDEX IF NOT EXISTS idx_refs_source ON refs(source_id);
CREATE INDEX IF NOT EXISTS idx_refs_target ON refs(target_id);

CREATE TABLE IF NOT EXISTS edges (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	rel_type   TEXT NOT NULL DEFAULT 'related',
	label      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_edges_pair ON edges(source_id, target_id);

CREATE TABLE IF NOT EXISTS tags (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	usage_count INTEGER NOT NULL DEFAULT 0
);
`

// DB wraps a sql.DB with store-specific operations.
//
// The canvas UI and tag UI write to the edges and tags tables directly, so
// nothing here assumes a single writer for those two: every engine-side edge
// or tag mutation is check-then-create or a wholesale recompute.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx so row-level operations
// can run standalone or inside a transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Tx is one atomic unit of multi-table writes. Resync, rename propagation,
// delete cascade, and snapshot apply each run inside exactly one Tx.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a transaction.
func (db *DB) Begin() (*Tx, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// idSet collects the id column of a table into a set. The table name is a
// compile-time constant at every call site.
func idSet(q querier, table string) (map[string]struct{}, error) {
	rows, err := q.Query(`SELECT id FROM ` + table)
	if err != nil {
		return nil, fmt.Errorf("store: %s ids: %w", table, err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error. The returned error is fn's error (or the commit error).
func (db *DB) WithTx(fn func(*Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
