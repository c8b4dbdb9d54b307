package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/starford/notebase/internal/analysis"
	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/models"
)

// Document is the searchable projection of a note. It is always replaced
// wholesale.
type Document struct {
	Path      string
	Title     string
	Content   string
	Tags      []string
	Checksum  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const documentColumns = `path, title, content, tags, checksum, created_at, updated_at`

// Upsert replaces the document stored under doc.Path.
func (db *DB) Upsert(ctx context.Context, doc Document) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, doc.Path); err != nil {
			return fmt.Errorf("index: upsert %s: clear: %w", doc.Path, err)
		}
		return insertDocument(ctx, tx, doc)
	})
}

// Delete removes the document at path. Deleting an absent path is a no-op.
func (db *DB) Delete(ctx context.Context, path string) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
			return fmt.Errorf("index: delete %s: %w", path, err)
		}
		return nil
	})
}

// Rebuild replaces the whole index with docs in a single transaction.
// Readers keep seeing the previous contents until it commits.
func (db *DB) Rebuild(ctx context.Context, docs []Document) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
			return fmt.Errorf("index: rebuild: clear: %w", err)
		}
		for _, d := range docs {
			if err := insertDocument(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) write(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	return nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, d Document) error {
	titleToks := analysis.Normalize(d.Title)
	contentToks := analysis.Normalize(d.Content)
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("index: encode tags: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents (path, title, content, tags, checksum, title_len, content_len, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.Path, d.Title, d.Content, string(tagsJSON), d.Checksum,
		len(titleToks), len(contentToks), d.CreatedAt.UnixNano(), d.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("index: insert %s: %w", d.Path, err)
	}
	ord, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("index: insert %s: ordinal: %w", d.Path, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO postings (field, term, ord, freq, positions) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare postings: %w", err)
	}
	defer stmt.Close()

	type fieldTokens struct {
		name   string
		tokens []analysis.Token
	}
	fields := []fieldTokens{
		{analysis.FieldTitle, titleToks},
		{analysis.FieldContent, contentToks},
	}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		fields = append(fields, fieldTokens{analysis.FieldTag, analysis.Exact(tag)})
	}
	for _, f := range fields {
		for _, p := range analysis.Postings(f.tokens) {
			pos, err := json.Marshal(p.Positions)
			if err != nil {
				return fmt.Errorf("index: encode positions: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, f.name, p.Term, ord, p.Frequency, string(pos)); err != nil {
				return fmt.Errorf("index: insert posting %s/%s: %w", f.name, p.Term, err)
			}
		}
	}
	return nil
}

// Get returns the document stored under path.
func (db *DB) Get(ctx context.Context, path string) (*Document, error) {
	row := db.reader.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get %s: %w", path, err)
	}
	return d, nil
}

// Checksums maps every indexed path to its stored checksum.
func (db *DB) Checksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.reader.QueryContext(ctx, `SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Under returns every document strictly beneath folder, ordered by path.
// The empty folder is the root.
func (db *DB) Under(ctx context.Context, folder string) ([]Document, error) {
	if folder == "" {
		return db.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY path`)
	}
	lo, hi := prefixRange(folder)
	return db.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE path >= ? AND path < ? ORDER BY path`, lo, hi)
}

// WithTag returns the documents carrying tag, ordered by path.
func (db *DB) WithTag(ctx context.Context, tag string) ([]Document, error) {
	return db.queryDocuments(ctx, `
		SELECT d.path, d.title, d.content, d.tags, d.checksum, d.created_at, d.updated_at
		FROM documents d JOIN postings p ON p.ord = d.ord
		WHERE p.field = ? AND p.term = ?
		ORDER BY d.path
	`, analysis.FieldTag, tag)
}

// Recent returns up to limit documents updated at or after since, newest
// first. A zero since means no lower bound.
func (db *DB) Recent(ctx context.Context, limit int, since time.Time) ([]Document, error) {
	lower := int64(math.MinInt64)
	if !since.IsZero() {
		lower = since.UnixNano()
	}
	return db.queryDocuments(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE updated_at >= ?
		ORDER BY updated_at DESC, path ASC
		LIMIT ?
	`, lower, limit)
}

// Tags counts documents per tag, ordered by tag.
func (db *DB) Tags(ctx context.Context) ([]models.TagCount, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT term, COUNT(*) FROM postings WHERE field = ? GROUP BY term ORDER BY term
	`, analysis.FieldTag)
	if err != nil {
		return nil, fmt.Errorf("index: tags: %w", err)
	}
	defer rows.Close()

	out := []models.TagCount{}
	for rows.Next() {
		var tc models.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// Count returns the number of indexed documents.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

func (db *DB) queryDocuments(ctx context.Context, q string, args ...any) ([]Document, error) {
	rows, err := db.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query documents: %w", err)
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan document: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*Document, error) {
	var (
		d                Document
		tagsJSON         string
		created, updated int64
	)
	if err := s.Scan(&d.Path, &d.Title, &d.Content, &tagsJSON, &d.Checksum, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &d.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", d.Path, err)
	}
	d.CreatedAt = time.Unix(0, created).UTC()
	d.UpdatedAt = time.Unix(0, updated).UTC()
	return &d, nil
}

// prefixRange returns the half-open key range holding every path strictly
// beneath folder. '0' is the byte after '/'.
func prefixRange(folder string) (string, string) {
	return folder + "/", folder + "0"
}
