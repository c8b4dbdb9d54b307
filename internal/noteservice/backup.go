package noteservice

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/backup"
)

// BackupResult reports an import or clear and the rebuild that followed it.
type BackupResult struct {
	*backup.Report
	Rebuild *RebuildResult `json:"rebuild"`
}

// Export writes every canonical note to w as a gzip-compressed tar archive.
// Mutations wait until it finishes so the archive is a consistent snapshot.
func (s *Service) Export(ctx context.Context, w io.Writer) (*backup.Report, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.derivedMu.Lock()
	defer s.derivedMu.Unlock()

	rep, err := backup.Export(ctx, s.store, w)
	if err != nil {
		return nil, err
	}
	s.logger.Info("noteservice: exported", slog.Int("notes", rep.Exported))
	return rep, nil
}

// Import loads an archive written by Export into the canonical store and
// rebuilds the derived stores. Like edits made outside the service, imported
// notes get no history record.
func (s *Service) Import(ctx context.Context, r io.Reader, replace bool) (*BackupResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.derivedMu.Lock()
	defer s.derivedMu.Unlock()

	rep, err := backup.Import(ctx, s.store, r, replace)
	if err != nil {
		s.heal(ctx, err)
		return nil, err
	}
	s.logger.Info("noteservice: imported",
		slog.Int("imported", rep.Imported),
		slog.Int("existing", rep.Existing),
		slog.Int("ignored", len(rep.Ignored)),
		slog.Bool("replace", replace))
	return s.afterBackup(ctx, rep)
}

// Clear removes every note from the canonical store and empties the derived
// stores. History is kept.
func (s *Service) Clear(ctx context.Context) (*BackupResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.derivedMu.Lock()
	defer s.derivedMu.Unlock()

	n, err := backup.Clear(ctx, s.store)
	if err != nil {
		s.heal(ctx, err)
		return nil, err
	}
	s.logger.Warn("noteservice: cleared vault", slog.Int("removed", n))
	return s.afterBackup(ctx, &backup.Report{Removed: n})
}

func (s *Service) afterBackup(ctx context.Context, rep *backup.Report) (*BackupResult, error) {
	res, err := s.rebuildLocked(ctx)
	if err != nil {
		return nil, err
	}
	return &BackupResult{Report: rep, Rebuild: res}, nil
}

// heal rebuilds after an import or clear failed partway through. A rejected
// archive wrote nothing and needs no rebuild.
func (s *Service) heal(ctx context.Context, cause error) {
	if errors.Is(cause, apperr.ErrValidation) {
		return
	}
	if _, err := s.rebuildLocked(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("noteservice: rebuild after failed backup step",
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()))
	}
}
