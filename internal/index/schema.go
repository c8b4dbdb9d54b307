// Package index provides the SQLite-backed derived stores: the full-text
// index (documents and postings) and the backlink graph (links).
package index

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	ord         INTEGER PRIMARY KEY AUTOINCREMENT,
	path        TEXT    NOT NULL UNIQUE,
	title       TEXT    NOT NULL DEFAULT '',
	content     TEXT    NOT NULL DEFAULT '',
	tags        TEXT    NOT NULL DEFAULT '[]',
	checksum    TEXT    NOT NULL DEFAULT '',
	title_len   INTEGER NOT NULL DEFAULT 0,
	content_len INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL DEFAULT 0,
	updated_at  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);

CREATE TABLE IF NOT EXISTS postings (
	field     TEXT    NOT NULL,
	term      TEXT    NOT NULL,
	ord       INTEGER NOT NULL REFERENCES documents(ord) ON DELETE CASCADE,
	freq      INTEGER NOT NULL,
	positions TEXT    NOT NULL DEFAULT '[]',
	PRIMARY KEY (field, term, ord)
);

CREATE INDEX IF NOT EXISTS idx_postings_ord ON postings(ord);

CREATE TABLE IF NOT EXISTS links (
	source TEXT    NOT NULL,
	target TEXT    NOT NULL,
	line   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_links_source ON links(source);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);
`

// Boosts weights each field's contribution to a document score.
type Boosts struct {
	Title   float64
	Content float64
	Tag     float64
	Path    float64
}

// Options tunes scoring and pagination.
type Options struct {
	Boosts    Boosts
	CursorTTL time.Duration
	// Now is the clock used to stamp and expire cursors.
	Now func() time.Time
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Boosts:    Boosts{Title: 2.0, Content: 1.0, Tag: 1.5, Path: 0.5},
		CursorTTL: 15 * time.Minute,
		Now:       time.Now,
	}
}

// DB holds two pools over one WAL database: a single-connection writer that
// serializes every mutation, and a reader pool whose transactions see the
// last committed snapshot.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	opts   Options
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(path string, opts Options) (*DB, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	writer, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := writer.Exec(schemaSQL); err != nil {
		writer.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}

	reader, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("index: open reader: %w", err)
	}
	reader.SetMaxOpenConns(8)
	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("index: ping reader: %w", err)
	}
	return &DB{writer: writer, reader: reader, opts: opts}, nil
}

// Ping checks both pools.
func (db *DB) Ping() error {
	if err := db.writer.Ping(); err != nil {
		return err
	}
	return db.reader.Ping()
}

// Close closes both pools.
func (db *DB) Close() error {
	rerr := db.reader.Close()
	if err := db.writer.Close(); err != nil {
		return err
	}
	return rerr
}

func (db *DB) now() time.Time { return db.opts.Now() }
