package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/models"
	"github.com/starford/notebase/internal/notepath"
	"github.com/starford/notebase/internal/parser"
)

// History returns the version records of path, newest first.
func (s *Service) History(ctx context.Context, path string, limit int) ([]models.VersionRecord, error) {
	if err := notepath.ValidatePath(path); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	recs, err := s.versions.History(ctx, path, limit)
	if err != nil {
		return nil, historyErr(err)
	}
	return recs, nil
}

// ReadVersion returns the note as it was recorded at version id.
func (s *Service) ReadVersion(ctx context.Context, path, id string) (*models.Note, error) {
	if err := notepath.ValidatePath(path); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.readVersion(ctx, path, id)
}

func (s *Service) readVersion(ctx context.Context, path, id string) (*models.Note, error) {
	data, rec, err := s.versions.ReadAt(ctx, path, id)
	if err != nil {
		return nil, historyErr(err)
	}
	n, err := parser.Decode(rec.Path, data)
	if err != nil {
		return nil, fmt.Errorf("noteservice: decode %s@%s: %w", rec.Path, id, err)
	}
	return n, nil
}

// Diff compares two versions of path. An empty to means the latest version.
func (s *Service) Diff(ctx context.Context, path, from, to string) (*models.NoteDiff, error) {
	if err := notepath.ValidatePath(path); err != nil {
		return nil, err
	}
	if from == "" {
		return nil, apperr.Validation("from version is required")
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if to == "" {
		latest, err := s.versions.Latest(ctx, path)
		if err != nil {
			return nil, historyErr(err)
		}
		to = latest.CommitID
	}
	d, err := s.versions.Diff(ctx, path, from, to)
	if err != nil {
		return nil, historyErr(err)
	}
	return d, nil
}

// Restore writes the content recorded at version id back to path as a new
// mutation. A deleted note is recreated with its original created_at.
func (s *Service) Restore(ctx context.Context, path, id, author string) (*WriteResult, error) {
	if err := notepath.ValidatePath(path); err != nil {
		return nil, err
	}
	author, err := validateAuthor(author)
	if err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	old, err := s.readVersion(ctx, path, id)
	if err != nil {
		return nil, err
	}

	s.derivedMu.RLock()
	defer s.derivedMu.RUnlock()
	unlock := s.locks.lock(path)
	defer unlock()

	next := *old
	next.Path = path
	current, err := s.readNote(path)
	switch {
	case err == nil:
		next.CreatedAt = current.CreatedAt
		next.UpdatedAt = s.touch(current.UpdatedAt)
	case errors.Is(err, apperr.ErrNotFound):
		next.UpdatedAt = s.touch(old.CreatedAt)
	default:
		return nil, err
	}

	var w warnings
	if err := s.apply(ctx, &w, &next, "", models.OpRestore, author); err != nil {
		return nil, err
	}
	s.logger.Info("noteservice: restored",
		slog.String("path", path),
		slog.String("version", id),
		slog.String("author", author))
	return &WriteResult{Note: &next, Warnings: w}, nil
}

func historyErr(err error) error {
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrValidation) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Unavailable("history", err)
}
