package noteservice

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/checksum"
	"github.com/starford/notebase/internal/index"
	"github.com/starford/notebase/internal/models"
	"github.com/starford/notebase/internal/parser"
)

// RebuildResult summarizes a full rebuild.
type RebuildResult struct {
	Reindexed int `json:"reindexed"`
	// Skipped lists canonical files that could not be decoded.
	Skipped []string `json:"skipped,omitempty"`
}

// ReconcileResult summarizes an incremental pass over the canonical store.
type ReconcileResult struct {
	Indexed int `json:"indexed"`
	Removed int `json:"removed"`
}

// Rebuild recomputes the full-text index and the backlink graph from the
// canonical store. Mutations wait until it finishes; reads of the canonical
// store do not.
func (s *Service) Rebuild(ctx context.Context) (*RebuildResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.derivedMu.Lock()
	defer s.derivedMu.Unlock()
	return s.rebuildLocked(ctx)
}

// rebuildLocked does the work of Rebuild. The caller holds derivedMu
// exclusively.
func (s *Service) rebuildLocked(ctx context.Context) (*RebuildResult, error) {
	metas, err := s.store.List("")
	if err != nil {
		return nil, apperr.Unavailable("canonical", err)
	}

	type parsed struct {
		doc   index.Document
		edges []models.LinkEdge
	}
	results := make([]*parsed, len(metas))
	var (
		mu      sync.Mutex
		skipped []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, m := range metas {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := s.store.Read(m.Path)
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			if err != nil {
				return apperr.Unavailable("canonical", err)
			}
			n, err := parser.Decode(m.Path, data)
			if err != nil {
				s.logger.Warn("noteservice: rebuild skipped note",
					slog.String("path", m.Path),
					slog.String("error", err.Error()))
				mu.Lock()
				skipped = append(skipped, m.Path)
				mu.Unlock()
				return nil
			}
			s.stamp(n)
			results[i] = &parsed{
				doc:   toDocument(n, checksum.Sum(data)),
				edges: parser.ExtractLinks(n.Path, n.Content),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]index.Document, 0, len(results))
	var edges []models.LinkEdge
	for _, r := range results {
		if r == nil {
			continue
		}
		docs = append(docs, r.doc)
		edges = append(edges, r.edges...)
	}
	if err := s.idx.Rebuild(ctx, docs); err != nil {
		return nil, apperr.Unavailable("index", err)
	}
	if err := s.graph.RebuildLinks(ctx, edges); err != nil {
		return nil, apperr.Unavailable("graph", err)
	}
	sort.Strings(skipped)
	s.logger.Info("noteservice: rebuild finished",
		slog.Int("reindexed", len(docs)),
		slog.Int("skipped", len(skipped)))
	return &RebuildResult{Reindexed: len(docs), Skipped: skipped}, nil
}

// Reconcile re-derives every note whose canonical checksum differs from the
// indexed one and forgets indexed paths that no longer exist. It runs at
// startup and after bursts of external file changes.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.derivedMu.RLock()
	defer s.derivedMu.RUnlock()

	metas, err := s.store.List("")
	if err != nil {
		return nil, apperr.Unavailable("canonical", err)
	}
	indexed, err := s.idx.Checksums(ctx)
	if err != nil {
		return nil, apperr.Unavailable("index", err)
	}

	res := &ReconcileResult{}
	onDisk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		onDisk[m.Path] = struct{}{}
		if indexed[m.Path] == m.Checksum {
			continue
		}
		changed, err := s.reindexLocked(ctx, m.Path)
		if err != nil {
			s.logger.Warn("noteservice: reconcile failed",
				slog.String("path", m.Path),
				slog.String("error", err.Error()))
			continue
		}
		if changed {
			res.Indexed++
		}
	}
	for p := range indexed {
		if _, ok := onDisk[p]; ok {
			continue
		}
		if err := s.forgetLocked(ctx, p); err != nil {
			s.logger.Warn("noteservice: reconcile failed",
				slog.String("path", p),
				slog.String("error", err.Error()))
			continue
		}
		res.Removed++
	}
	if res.Indexed > 0 || res.Removed > 0 {
		s.logger.Info("noteservice: reconciled",
			slog.Int("indexed", res.Indexed),
			slog.Int("removed", res.Removed))
	}
	return res, nil
}

// Reindex re-derives the index document and links of a note edited outside
// the service. No history record is written. It reports whether anything
// changed; a note whose file vanished is forgotten.
func (s *Service) Reindex(ctx context.Context, path string) (bool, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	s.derivedMu.RLock()
	defer s.derivedMu.RUnlock()
	return s.reindexLocked(ctx, path)
}

// Forget drops path from the derived stores after its file was removed
// outside the service.
func (s *Service) Forget(ctx context.Context, path string) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	s.derivedMu.RLock()
	defer s.derivedMu.RUnlock()
	return s.forgetLocked(ctx, path)
}

func (s *Service) reindexLocked(ctx context.Context, path string) (bool, error) {
	unlock := s.locks.lock(path)
	defer unlock()

	data, err := s.store.Read(path)
	if errors.Is(err, apperr.ErrNotFound) {
		return true, s.forgetPath(ctx, path)
	}
	if err != nil {
		return false, apperr.Unavailable("canonical", err)
	}
	if d, err := s.idx.Get(ctx, path); err == nil && checksum.Same(data, d.Checksum) {
		return false, nil
	}
	n, err := parser.Decode(path, data)
	if err != nil {
		return false, err
	}
	s.stamp(n)
	if err := s.graph.SetLinks(ctx, path, parser.ExtractLinks(path, n.Content)); err != nil {
		return false, apperr.Unavailable("graph", err)
	}
	if err := s.idx.Upsert(ctx, toDocument(n, checksum.Sum(data))); err != nil {
		return false, apperr.Unavailable("index", err)
	}
	s.logger.Debug("noteservice: reindexed", slog.String("path", path))
	return true, nil
}

func (s *Service) forgetLocked(ctx context.Context, path string) error {
	unlock := s.locks.lock(path)
	defer unlock()

	exists, err := s.store.Exists(path)
	if err != nil {
		return apperr.Unavailable("canonical", err)
	}
	if exists {
		return nil
	}
	return s.forgetPath(ctx, path)
}

// forgetPath removes path from the graph and the index. The caller holds the
// path lock.
func (s *Service) forgetPath(ctx context.Context, path string) error {
	if err := s.graph.RemoveSource(ctx, path); err != nil {
		return apperr.Unavailable("graph", err)
	}
	if err := s.idx.Delete(ctx, path); err != nil {
		return apperr.Unavailable("index", err)
	}
	s.logger.Debug("noteservice: forgot", slog.String("path", path))
	return nil
}

// stamp gives notes written without frontmatter timestamps the current time.
func (s *Service) stamp(n *models.Note) {
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = s.now()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = n.UpdatedAt
	}
}
