package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/models"
)

// History returns up to limit records of path, newest first. Renames are
// followed: the history of a moved note continues under its previous path.
// A limit <= 0 returns everything.
func (l *Log) History(ctx context.Context, path string, limit int) ([]models.VersionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []models.VersionRecord{}
	err := l.walkPath(ctx, path, func(_ *object.Commit, rec models.VersionRecord) bool {
		out = append(out, rec)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// walkPath visits the records touching path, following moves backwards.
// A create record starts a note's lineage, so the walk ends there and a note
// created at a reused path does not inherit the records of its predecessor.
func (l *Log) walkPath(ctx context.Context, path string, fn func(*object.Commit, models.VersionRecord) bool) error {
	cur := path
	return l.walk(ctx, func(c *object.Commit, rec models.VersionRecord) bool {
		switch {
		case rec.Path == cur:
			if !fn(c, rec) || rec.Operation == models.OpCreate {
				return false
			}
			if rec.Operation == models.OpMove && rec.PreviousPath != "" {
				cur = rec.PreviousPath
			}
		case rec.PreviousPath == cur:
			return fn(c, rec)
		}
		return true
	})
}

// ReadAt returns the snapshot of path at version id. id may be any unique
// prefix of at least four characters. A version that deleted the note has
// no snapshot.
func (l *Log) ReadAt(ctx context.Context, path, id string) ([]byte, *models.VersionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	content, rec, err := l.snapshot(ctx, path, id)
	if err != nil {
		return nil, nil, err
	}
	if rec.Operation == models.OpDelete {
		return nil, nil, fmt.Errorf("history: %s deleted at %s: %w", path, shortID(rec.CommitID), apperr.ErrVersionNotFound)
	}
	return []byte(content), rec, nil
}

// Diff compares two versions of path. A deleting version compares as empty.
func (l *Log) Diff(ctx context.Context, path, from, to string) (*models.NoteDiff, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ra, err := l.snapshot(ctx, path, from)
	if err != nil {
		return nil, err
	}
	b, rb, err := l.snapshot(ctx, path, to)
	if err != nil {
		return nil, err
	}

	al, bl := splitLines(a), splitLines(b)
	adds, dels := countChanges(al, bl)
	return &models.NoteDiff{
		Path:        path,
		FromVersion: ra.CommitID,
		ToVersion:   rb.CommitID,
		Diff:        unifiedDiff(al, bl, path+"@"+shortID(ra.CommitID), path+"@"+shortID(rb.CommitID)),
		Additions:   adds,
		Deletions:   dels,
	}, nil
}

// Latest returns the newest record of path.
func (l *Log) Latest(ctx context.Context, path string) (*models.VersionRecord, error) {
	recs, err := l.History(ctx, path, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("history: %s: %w", path, apperr.ErrVersionNotFound)
	}
	return &recs[0], nil
}

// snapshot resolves id within the history of path and returns the note
// content at that commit. Callers hold l.mu.
func (l *Log) snapshot(ctx context.Context, path, id string) (string, *models.VersionRecord, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if err := checkID(id); err != nil {
		return "", nil, err
	}

	var (
		found   *object.Commit
		rec     models.VersionRecord
		matches int
	)
	err := l.walkPath(ctx, path, func(c *object.Commit, r models.VersionRecord) bool {
		if strings.HasPrefix(r.CommitID, id) {
			matches++
			found, rec = c, r
		}
		return matches < 2
	})
	if err != nil {
		return "", nil, err
	}
	switch {
	case matches == 0:
		return "", nil, fmt.Errorf("history: %s@%s: %w", path, id, apperr.ErrVersionNotFound)
	case matches > 1:
		return "", nil, apperr.Validation("version id %q is ambiguous", id)
	}
	if rec.Operation == models.OpDelete {
		return "", &rec, nil
	}

	f, err := found.File(rec.Path + fileExt)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", nil, fmt.Errorf("history: %s@%s has no content: %w", path, shortID(rec.CommitID), apperr.ErrVersionNotFound)
	}
	if err != nil {
		return "", nil, fmt.Errorf("history: read %s@%s: %w", path, shortID(rec.CommitID), err)
	}
	content, err := f.Contents()
	if err != nil {
		return "", nil, fmt.Errorf("history: read %s@%s: %w", path, shortID(rec.CommitID), err)
	}
	return content, &rec, nil
}

func checkID(id string) error {
	if len(id) < minShortIDLen || len(id) > 40 {
		return apperr.Validation("version id must be 4 to 40 hex characters")
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return apperr.Validation("version id %q is not hexadecimal", id)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// splitLines splits s after each newline. Unlike difflib.SplitLines the last
// line is kept as is, so a missing final newline survives the diff.
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// unifiedDiff renders the hunks turning a into b with three lines of context.
// A line without a terminator is followed by the "\ No newline at end of
// file" marker, as diff(1) prints it.
func unifiedDiff(a, b []string, fromFile, toFile string) string {
	groups := difflib.NewMatcher(a, b).GetGroupedOpCodes(3)
	if len(groups) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", fromFile, toFile)
	for _, g := range groups {
		first, last := g[0], g[len(g)-1]
		fmt.Fprintf(&sb, "@@ -%s +%s @@\n", hunkRange(first.I1, last.I2), hunkRange(first.J1, last.J2))
		for _, op := range g {
			if op.Tag == 'e' {
				writeLines(&sb, ' ', a[op.I1:op.I2])
				continue
			}
			if op.Tag == 'r' || op.Tag == 'd' {
				writeLines(&sb, '-', a[op.I1:op.I2])
			}
			if op.Tag == 'r' || op.Tag == 'i' {
				writeLines(&sb, '+', b[op.J1:op.J2])
			}
		}
	}
	return sb.String()
}

func writeLines(sb *strings.Builder, mark byte, lines []string) {
	for _, line := range lines {
		sb.WriteByte(mark)
		sb.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			sb.WriteString("\n\\ No newline at end of file\n")
		}
	}
}

// hunkRange formats a 0-based half-open line range as a unified diff range.
func hunkRange(start, stop int) string {
	switch n := stop - start; n {
	case 0:
		return fmt.Sprintf("%d,0", start)
	case 1:
		return strconv.Itoa(start + 1)
	default:
		return fmt.Sprintf("%d,%d", start+1, n)
	}
}

// countChanges returns the number of added and removed lines turning a
// into b.
func countChanges(a, b []string) (adds, dels int) {
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch op.Tag {
		case 'r':
			dels += op.I2 - op.I1
			adds += op.J2 - op.J1
		case 'd':
			dels += op.I2 - op.I1
		case 'i':
			adds += op.J2 - op.J1
		}
	}
	return adds, dels
}
