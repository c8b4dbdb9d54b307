// Package history keeps the append-only version log of every note in a git
// repository of its own. Each mutation is one commit whose message carries
// the operation and paths as trailers.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/starford/notebase/internal/models"
)

const (
	fileExt       = ".md"
	authorDomain  = "notes"
	minShortIDLen = 4
	trailerOp     = "Operation"
	trailerPath   = "Path"
	trailerPrev   = "Previous-Path"
)

// Entry is one mutation to record.
type Entry struct {
	Op           models.Operation
	Path         string
	PreviousPath string // move only
	// Snapshot is the full encoded note after the mutation; nil for deletes.
	Snapshot  []byte
	Author    string
	Timestamp time.Time
}

// Log is a version log backed by a git repository.
type Log struct {
	mu   sync.RWMutex
	repo *git.Repository
	wt   *git.Worktree
}

// Open opens the repository at dir, initializing it when absent.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", dir, err)
	}
	return newLog(repo)
}

// NewInMemory returns a log held entirely in memory.
func NewInMemory() (*Log, error) {
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		return nil, fmt.Errorf("history: init in-memory repo: %w", err)
	}
	return newLog(repo)
}

func newLog(repo *git.Repository) (*Log, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("history: worktree: %w", err)
	}
	return &Log{repo: repo, wt: wt}, nil
}

// Close releases the log. The repository needs no teardown.
func (l *Log) Close() error { return nil }

// Commit records e and returns the new commit id.
func (l *Log) Commit(ctx context.Context, e Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.Author == "" {
		return "", fmt.Errorf("history: commit %s: author is required", e.Path)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Op == models.OpMove && e.PreviousPath != "" {
		if err := l.remove(e.PreviousPath); err != nil {
			return "", err
		}
	}
	if e.Op == models.OpDelete {
		if err := l.remove(e.Path); err != nil {
			return "", err
		}
	} else {
		name := e.Path + fileExt
		if err := util.WriteFile(l.wt.Filesystem, name, e.Snapshot, 0o644); err != nil {
			return "", fmt.Errorf("history: write snapshot %s: %w", e.Path, err)
		}
		if _, err := l.wt.Add(name); err != nil {
			return "", fmt.Errorf("history: stage %s: %w", e.Path, err)
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sig := &object.Signature{Name: e.Author, Email: e.Author + "@" + authorDomain, When: ts.UTC()}
	hash, err := l.wt.Commit(message(e), &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("history: commit %s: %w", e.Path, err)
	}
	return hash.String(), nil
}

// remove unstages and deletes path from the worktree when it is tracked.
func (l *Log) remove(path string) error {
	name := path + fileExt
	if _, err := l.wt.Filesystem.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("history: stat %s: %w", path, err)
	}
	if _, err := l.wt.Remove(name); err != nil {
		return fmt.Errorf("history: remove %s: %w", path, err)
	}
	return nil
}

func message(e Entry) string {
	var b strings.Builder
	verb := string(e.Op)
	if verb != "" {
		verb = strings.ToUpper(verb[:1]) + verb[1:]
	}
	if e.Op == models.OpMove {
		fmt.Fprintf(&b, "%s note: %s -> %s\n\n", verb, e.PreviousPath, e.Path)
	} else {
		fmt.Fprintf(&b, "%s note: %s\n\n", verb, e.Path)
	}
	fmt.Fprintf(&b, "%s: %s\n", trailerOp, e.Op)
	fmt.Fprintf(&b, "%s: %s\n", trailerPath, e.Path)
	if e.PreviousPath != "" {
		fmt.Fprintf(&b, "%s: %s\n", trailerPrev, e.PreviousPath)
	}
	return b.String()
}

// record decodes the trailers of c. ok is false for commits this package
// did not write.
func record(c *object.Commit) (models.VersionRecord, bool) {
	rec := models.VersionRecord{
		CommitID:  c.Hash.String(),
		Timestamp: c.Author.When.UTC(),
		Author:    c.Author.Name,
	}
	lines := strings.Split(c.Message, "\n")
	rec.Message = strings.TrimSpace(lines[0])
	for _, line := range lines[1:] {
		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		switch key {
		case trailerOp:
			rec.Operation = models.Operation(value)
		case trailerPath:
			rec.Path = value
		case trailerPrev:
			rec.PreviousPath = value
		}
	}
	return rec, rec.Operation != "" && rec.Path != ""
}

// walk visits every recorded commit from HEAD, newest first, until fn
// returns false. An empty repository has no commits.
func (l *Log) walk(ctx context.Context, fn func(*object.Commit, models.VersionRecord) bool) error {
	iter, err := l.repo.Log(&git.LogOptions{})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("history: log: %w", err)
	}
	defer iter.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := iter.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("history: log: %w", err)
		}
		rec, ok := record(c)
		if !ok {
			continue
		}
		if !fn(c, rec) {
			return nil
		}
	}
}
