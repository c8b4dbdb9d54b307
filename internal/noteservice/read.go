package noteservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/index"
	"github.com/starford/notebase/internal/models"
	"github.com/starford/notebase/internal/notepath"
	"github.com/starford/notebase/internal/query"
)

// Listing is the content of one browse level.
type Listing struct {
	Path string `json:"path"`
	// Note is set when a note lives at Path itself.
	Note    *models.NoteSummary  `json:"note,omitempty"`
	Folders []string             `json:"folders"`
	Notes   []models.NoteSummary `json:"notes"`
}

// BacklinkReport lists the notes linking to a path.
type BacklinkReport struct {
	Path       string                  `json:"path"`
	NoteExists bool                    `json:"note_exists"`
	Sources    []models.BacklinkSource `json:"sources"`
}

// Read returns the canonical note at path.
func (s *Service) Read(ctx context.Context, path string) (*models.Note, error) {
	if err := notepath.ValidatePath(path); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.readNote(path)
}

// Search compiles q and returns one page of ranked results.
func (s *Service) Search(ctx context.Context, q string, limit int, cursor string) (*index.SearchPage, error) {
	ast, err := query.Parse(q, s.now())
	if err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	page, err := s.idx.Search(ctx, index.SearchRequest{
		Query:  q,
		AST:    ast,
		Limit:  s.limit(limit),
		Cursor: cursor,
	})
	if err != nil {
		return nil, indexErr(err)
	}
	return page, nil
}

// Browse lists the folders and notes directly beneath prefix. The empty
// prefix is the root. A non-root prefix with no note and nothing beneath it
// is not found.
func (s *Service) Browse(ctx context.Context, prefix string) (*Listing, error) {
	folder, err := notepath.NormalizeFolder(prefix)
	if err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	docs, err := s.idx.Under(ctx, folder)
	if err != nil {
		return nil, indexErr(err)
	}
	out := &Listing{Path: folder, Folders: []string{}, Notes: []models.NoteSummary{}}
	if folder != "" {
		d, err := s.idx.Get(ctx, folder)
		switch {
		case err == nil:
			out.Note = summary(*d)
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, indexErr(err)
		}
	}

	seen := make(map[string]struct{})
	for _, d := range docs {
		rest := d.Path
		if folder != "" {
			rest = strings.TrimPrefix(d.Path, folder+notepath.Separator)
		}
		if i := strings.Index(rest, notepath.Separator); i >= 0 {
			child := rest[:i]
			if folder != "" {
				child = folder + notepath.Separator + child
			}
			if _, ok := seen[child]; !ok {
				seen[child] = struct{}{}
				out.Folders = append(out.Folders, child)
			}
			continue
		}
		out.Notes = append(out.Notes, *summary(d))
	}
	sort.Strings(out.Folders)

	if folder != "" && out.Note == nil && len(docs) == 0 {
		return nil, fmt.Errorf("folder %s: %w", folder, apperr.ErrNotFound)
	}
	return out, nil
}

// ListTags returns every tag in use with its note count.
func (s *Service) ListTags(ctx context.Context) ([]models.TagCount, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tags, err := s.idx.Tags(ctx)
	if err != nil {
		return nil, indexErr(err)
	}
	return tags, nil
}

// FindByTag returns the notes carrying tag, ordered by path.
func (s *Service) FindByTag(ctx context.Context, tag string) ([]models.Note, error) {
	norm, err := notepath.NormalizeTags([]string{tag})
	if err != nil {
		return nil, err
	}
	if len(norm) == 0 {
		return nil, apperr.Validation("tag is required")
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	docs, err := s.idx.WithTag(ctx, norm[0])
	if err != nil {
		return nil, indexErr(err)
	}
	return notes(docs), nil
}

// Backlinks reports the notes linking to path, which need not exist.
func (s *Service) Backlinks(ctx context.Context, path string) (*BacklinkReport, error) {
	if err := notepath.ValidatePath(path); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	exists, err := s.store.Exists(path)
	if err != nil {
		return nil, apperr.Unavailable("canonical", err)
	}
	sources, err := s.graph.BacklinksTo(ctx, path)
	if err != nil {
		return nil, apperr.Unavailable("graph", err)
	}
	if sources == nil {
		sources = []models.BacklinkSource{}
	}
	return &BacklinkReport{Path: path, NoteExists: exists, Sources: sources}, nil
}

// Recent returns the most recently updated notes, newest first. A zero since
// means no lower bound.
func (s *Service) Recent(ctx context.Context, limit int, since time.Time) ([]models.Note, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	docs, err := s.idx.Recent(ctx, s.limit(limit), since)
	if err != nil {
		return nil, indexErr(err)
	}
	return notes(docs), nil
}

// indexErr keeps caller-facing index errors and marks the rest as an
// unavailable backend.
func indexErr(err error) error {
	if errors.Is(err, apperr.ErrInvalidCursor) || errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrValidation) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Unavailable("index", err)
}

func summary(d index.Document) *models.NoteSummary {
	return &models.NoteSummary{Path: d.Path, Title: d.Title, UpdatedAt: d.UpdatedAt}
}

func notes(docs []index.Document) []models.Note {
	out := make([]models.Note, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDocument(d))
	}
	return out
}
