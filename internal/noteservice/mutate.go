package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/checksum"
	"github.com/starford/notebase/internal/history"
	"github.com/starford/notebase/internal/index"
	"github.com/starford/notebase/internal/models"
	"github.com/starford/notebase/internal/notepath"
	"github.com/starford/notebase/internal/parser"
)

// Step names reported in partial-failure warnings.
const (
	stepGraph     = "graph"
	stepIndex     = "index"
	stepHistory   = "history"
	stepBacklinks = "backlinks"
	stepRewrite   = "rewrite"
)

// WriteResult is returned by mutations that leave a note behind.
type WriteResult struct {
	Note *models.Note `json:"note"`
	// BacklinksUpdated lists the notes rewritten to follow a move.
	BacklinksUpdated []string         `json:"backlinks_updated,omitempty"`
	Warnings         []models.Warning `json:"warnings,omitempty"`
}

// DeleteResult is returned by Delete.
type DeleteResult struct {
	Path     string           `json:"path"`
	Warnings []models.Warning `json:"warnings,omitempty"`
}

// warnings accumulates the non-fatal outcomes of one mutation.
type warnings []models.Warning

// derive runs one derived-store step. A failure is logged and kept as a
// partial-failure warning; the mutation carries on.
func (s *Service) derive(w *warnings, path, step string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Warn("noteservice: derived store update failed",
			slog.String("path", path),
			slog.String("step", step),
			slog.String("error", err.Error()))
		*w = append(*w, models.Warning{
			Kind:    models.WarnPartialFailure,
			Step:    step,
			Message: fmt.Sprintf("%s: %v; run rebuild to repair", path, err),
		})
	}
}

// Create stores a new note.
func (s *Service) Create(ctx context.Context, in CreateInput) (*WriteResult, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.derivedMu.RLock()
	defer s.derivedMu.RUnlock()
	unlock := s.locks.lock(in.Path)
	defer unlock()

	exists, err := s.store.Exists(in.Path)
	if err != nil {
		return nil, apperr.Unavailable("canonical", err)
	}
	if exists {
		return nil, fmt.Errorf("note %s: %w", in.Path, apperr.ErrConflict)
	}

	now := s.now()
	note := &models.Note{
		Path:      in.Path,
		Title:     in.Title,
		Content:   in.Content,
		Tags:      in.Tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var w warnings
	if err := s.apply(ctx, &w, note, "", models.OpCreate, in.Author); err != nil {
		return nil, err
	}
	s.logger.Info("noteservice: created", slog.String("path", note.Path), slog.String("author", in.Author))
	return &WriteResult{Note: note, Warnings: w}, nil
}

// Update changes a note's title, content or tags and optionally moves it.
func (s *Service) Update(ctx context.Context, in UpdateInput) (*WriteResult, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.derivedMu.RLock()
	defer s.derivedMu.RUnlock()

	oldPath := in.Path
	newPath := oldPath
	if in.NewPath != nil {
		newPath = *in.NewPath
	}

	note, w, err := s.updateLocked(ctx, in, oldPath, newPath)
	if err != nil {
		return nil, err
	}
	res := &WriteResult{Note: note, Warnings: w}
	if newPath != oldPath {
		s.followMove(ctx, res, oldPath, newPath, in.Author, in.rewriteBacklinks())
	}
	s.logger.Info("noteservice: updated",
		slog.String("path", note.Path),
		slog.String("previous_path", oldPath),
		slog.String("author", in.Author))
	return res, nil
}

// updateLocked runs steps 1 to 5 of an update while holding the locks of
// both paths.
func (s *Service) updateLocked(ctx context.Context, in UpdateInput, oldPath, newPath string) (*models.Note, warnings, error) {
	unlock := s.locks.lock(oldPath, newPath)
	defer unlock()

	current, err := s.readNote(oldPath)
	if err != nil {
		return nil, nil, err
	}
	if newPath != oldPath {
		exists, err := s.store.Exists(newPath)
		if err != nil {
			return nil, nil, apperr.Unavailable("canonical", err)
		}
		if exists {
			return nil, nil, fmt.Errorf("note %s: %w", newPath, apperr.ErrConflict)
		}
	}

	next := *current
	next.Path = newPath
	if in.Title != nil {
		next.Title = *in.Title
	}
	if in.Content != nil {
		next.Content = *in.Content
	}
	switch {
	case in.Tags != nil:
		next.Tags = in.Tags
	case len(in.AddTags) > 0 || len(in.RemoveTags) > 0:
		next.Tags, err = notepath.ApplyTagDelta(current.Tags, in.AddTags, in.RemoveTags)
		if err != nil {
			return nil, nil, err
		}
	}
	next.UpdatedAt = s.touch(current.UpdatedAt)

	op := models.OpUpdate
	prev := ""
	if newPath != oldPath {
		op, prev = models.OpMove, oldPath
	}
	var w warnings
	if err := s.apply(ctx, &w, &next, prev, op, in.Author); err != nil {
		return nil, nil, err
	}
	return &next, w, nil
}

// Delete removes a note. Notes linking to it keep their now broken links and
// are reported in a warning.
func (s *Service) Delete(ctx context.Context, path, author string) (*DeleteResult, error) {
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
	s.derivedMu.RLock()
	defer s.derivedMu.RUnlock()

	w, err := s.deleteLocked(ctx, path, author)
	if err != nil {
		return nil, err
	}
	res := &DeleteResult{Path: path, Warnings: w}
	s.reportBroken(ctx, &res.Warnings, path, "deleted")
	s.logger.Info("noteservice: deleted", slog.String("path", path), slog.String("author", author))
	return res, nil
}

func (s *Service) deleteLocked(ctx context.Context, path, author string) (warnings, error) {
	unlock := s.locks.lock(path)
	defer unlock()

	exists, err := s.store.Exists(path)
	if err != nil {
		return nil, apperr.Unavailable("canonical", err)
	}
	if !exists {
		return nil, fmt.Errorf("note %s: %w", path, apperr.ErrNotFound)
	}
	if err := s.store.Delete(path); err != nil {
		return nil, apperr.Unavailable("canonical", err)
	}

	var w warnings
	s.derive(&w, path, stepGraph, func() error { return s.graph.RemoveSource(ctx, path) })
	s.derive(&w, path, stepIndex, func() error { return s.idx.Delete(ctx, path) })
	s.derive(&w, path, stepHistory, func() error {
		_, err := s.versions.Commit(ctx, history.Entry{
			Op: models.OpDelete, Path: path, Author: author, Timestamp: s.now(),
		})
		return err
	})
	return w, nil
}

// apply runs steps 2 to 5 for note. prev is the old path of a move. The
// caller holds the path locks. Only a canonical failure is returned; the
// store is left as it was.
func (s *Service) apply(ctx context.Context, w *warnings, note *models.Note, prev string, op models.Operation, author string) error {
	data, err := parser.Encode(note)
	if err != nil {
		return fmt.Errorf("noteservice: encode %s: %w", note.Path, err)
	}
	if err := s.store.Write(note.Path, data); err != nil {
		return apperr.Unavailable("canonical", err)
	}
	if prev != "" {
		if err := s.store.Delete(prev); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			if rerr := s.store.Delete(note.Path); rerr != nil {
				s.logger.Error("noteservice: move rollback failed",
					slog.String("path", note.Path),
					slog.String("error", rerr.Error()))
			}
			return apperr.Unavailable("canonical", err)
		}
	}

	if prev != "" {
		s.derive(w, prev, stepGraph, func() error { return s.graph.RemoveSource(ctx, prev) })
	}
	s.derive(w, note.Path, stepGraph, func() error {
		return s.graph.SetLinks(ctx, note.Path, parser.ExtractLinks(note.Path, note.Content))
	})

	if prev != "" {
		s.derive(w, prev, stepIndex, func() error { return s.idx.Delete(ctx, prev) })
	}
	s.derive(w, note.Path, stepIndex, func() error {
		return s.idx.Upsert(ctx, toDocument(note, checksum.Sum(data)))
	})

	s.derive(w, note.Path, stepHistory, func() error {
		_, err := s.versions.Commit(ctx, history.Entry{
			Op:           op,
			Path:         note.Path,
			PreviousPath: prev,
			Snapshot:     data,
			Author:       author,
			Timestamp:    note.UpdatedAt,
		})
		return err
	})
	return nil
}

// followMove handles notes that linked to oldPath: their markers are
// rewritten to newPath, or they are reported as broken.
func (s *Service) followMove(ctx context.Context, res *WriteResult, oldPath, newPath, author string, rewrite bool) {
	if !rewrite {
		s.reportBroken(ctx, &res.Warnings, oldPath, "moved to "+newPath)
		return
	}
	sources, err := s.graph.BacklinksTo(ctx, oldPath)
	if err != nil {
		s.derive((*warnings)(&res.Warnings), oldPath, stepBacklinks, func() error { return err })
		return
	}
	for _, src := range sources {
		updated, w, err := s.rewriteLinks(ctx, src.Path, oldPath, newPath, author)
		res.Warnings = append(res.Warnings, w...)
		if err != nil {
			s.derive((*warnings)(&res.Warnings), src.Path, stepRewrite, func() error { return err })
			continue
		}
		if updated == nil {
			continue
		}
		res.BacklinksUpdated = append(res.BacklinksUpdated, src.Path)
		if src.Path == newPath {
			res.Note = updated
		}
	}
}

// rewriteLinks points the [[oldPath]] markers of source at newPath. It
// returns a nil note when nothing needed rewriting.
func (s *Service) rewriteLinks(ctx context.Context, source, oldPath, newPath, author string) (*models.Note, warnings, error) {
	unlock := s.locks.lock(source)
	defer unlock()

	current, err := s.readNote(source)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	content := parser.ReplaceLinkTarget(current.Content, oldPath, newPath)
	if content == current.Content {
		return nil, nil, nil
	}
	next := *current
	next.Content = content
	next.UpdatedAt = s.touch(current.UpdatedAt)

	var w warnings
	if err := s.apply(ctx, &w, &next, "", models.OpUpdate, author); err != nil {
		return nil, nil, err
	}
	return &next, w, nil
}

// reportBroken adds a broken-links warning when notes still link to path.
func (s *Service) reportBroken(ctx context.Context, w *[]models.Warning, path, what string) {
	sources, err := s.graph.BacklinksTo(ctx, path)
	if err != nil {
		s.derive((*warnings)(w), path, stepBacklinks, func() error { return err })
		return
	}
	if len(sources) == 0 {
		return
	}
	*w = append(*w, models.Warning{
		Kind:    models.WarnBrokenLinks,
		Message: fmt.Sprintf("%d note(s) still link to %s, which was %s", len(sources), path, what),
		Sources: sources,
	})
}

// readNote loads and decodes the canonical note at path.
func (s *Service) readNote(path string) (*models.Note, error) {
	data, err := s.store.Read(path)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("note %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Unavailable("canonical", err)
	}
	n, err := parser.Decode(path, data)
	if err != nil {
		return nil, fmt.Errorf("noteservice: decode %s: %w", path, err)
	}
	return n, nil
}

// touch returns the next updated_at, never earlier than prev.
func (s *Service) touch(prev time.Time) time.Time {
	now := s.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

func toDocument(n *models.Note, sum string) index.Document {
	return index.Document{
		Path:      n.Path,
		Title:     n.Title,
		Content:   n.Content,
		Tags:      n.Tags,
		Checksum:  sum,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func fromDocument(d index.Document) models.Note {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return models.Note{
		Path:      d.Path,
		Title:     d.Title,
		Content:   d.Content,
		Tags:      tags,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
