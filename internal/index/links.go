package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/notebase/internal/models"
)

// SetLinks replaces every edge authored by source.
func (db *DB) SetLinks(ctx context.Context, source string, edges []models.LinkEdge) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE source = ?`, source); err != nil {
			return fmt.Errorf("index: clear links of %s: %w", source, err)
		}
		return insertLinks(ctx, tx, edges)
	})
}

// RemoveSource drops the edges authored by source. Edges pointing at it are
// kept.
func (db *DB) RemoveSource(ctx context.Context, source string) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE source = ?`, source); err != nil {
			return fmt.Errorf("index: remove links of %s: %w", source, err)
		}
		return nil
	})
}

// RebuildLinks replaces the whole graph in a single transaction.
func (db *DB) RebuildLinks(ctx context.Context, edges []models.LinkEdge) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM links`); err != nil {
			return fmt.Errorf("index: rebuild links: clear: %w", err)
		}
		return insertLinks(ctx, tx, edges)
	})
}

func insertLinks(ctx context.Context, tx *sql.Tx, edges []models.LinkEdge) error {
	if len(edges) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO links (source, target, line) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare link insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, e.Source, e.Target, e.Line); err != nil {
			return fmt.Errorf("index: insert link %s -> %s: %w", e.Source, e.Target, err)
		}
	}
	return nil
}

// BacklinksTo returns the notes linking to target, ordered by path, each
// with the lines holding the markers. Targets need not exist.
func (db *DB) BacklinksTo(ctx context.Context, target string) ([]models.BacklinkSource, error) {
	rows, err := db.reader.QueryContext(ctx,
		`SELECT source, line FROM links WHERE target = ? ORDER BY source, line`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks to %s: %w", target, err)
	}
	defer rows.Close()

	out := []models.BacklinkSource{}
	for rows.Next() {
		var (
			src  string
			line int
		)
		if err := rows.Scan(&src, &line); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].Path == src {
			if lines := out[n-1].Lines; lines[len(lines)-1] != line {
				out[n-1].Lines = append(lines, line)
			}
			continue
		}
		out = append(out, models.BacklinkSource{Path: src, Lines: []int{line}})
	}
	return out, rows.Err()
}

// LinksFrom returns the edges authored by source in line order.
func (db *DB) LinksFrom(ctx context.Context, source string) ([]models.LinkEdge, error) {
	rows, err := db.reader.QueryContext(ctx,
		`SELECT source, target, line FROM links WHERE source = ? ORDER BY line, rowid`, source)
	if err != nil {
		return nil, fmt.Errorf("index: links from %s: %w", source, err)
	}
	defer rows.Close()

	out := []models.LinkEdge{}
	for rows.Next() {
		var e models.LinkEdge
		if err := rows.Scan(&e.Source, &e.Target, &e.Line); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
