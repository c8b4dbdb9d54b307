// Package noteservice is the mutation coordinator. Every create, update,
// move and delete advances the canonical store, the backlink graph, the
// full-text index and the version log in that order; reads go straight to
// the store that owns the answer.
package noteservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/starford/notebase/internal/history"
	"github.com/starford/notebase/internal/index"
	"github.com/starford/notebase/internal/models"
	"github.com/starford/notebase/internal/storage"
)

// VersionLog is the history store as seen by the coordinator.
type VersionLog interface {
	Commit(ctx context.Context, e history.Entry) (string, error)
	History(ctx context.Context, path string, limit int) ([]models.VersionRecord, error)
	ReadAt(ctx context.Context, path, id string) ([]byte, *models.VersionRecord, error)
	Diff(ctx context.Context, path, from, to string) (*models.NoteDiff, error)
	Latest(ctx context.Context, path string) (*models.VersionRecord, error)
}

var _ VersionLog = (*history.Log)(nil)

// Config tunes the coordinator.
type Config struct {
	// Workers bounds the number of caller operations in flight.
	Workers      int
	DefaultLimit int
	MaxLimit     int
	// Now is the clock used for timestamps and relative query dates.
	Now func() time.Time
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{Workers: 8, DefaultLimit: 20, MaxLimit: 100, Now: time.Now}
}

// Service coordinates the canonical store and the derived stores.
type Service struct {
	store    storage.Provider
	idx      index.TextIndex
	graph    index.LinkGraph
	versions VersionLog
	logger   *slog.Logger
	cfg      Config

	sem   *semaphore.Weighted
	locks *pathLocks
	// derivedMu is held shared by mutations and exclusively by Rebuild.
	derivedMu sync.RWMutex
}

// NewService creates a coordinator over the given stores.
func NewService(store storage.Provider, idx index.TextIndex, graph index.LinkGraph, versions VersionLog, logger *slog.Logger, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		idx:      idx,
		graph:    graph,
		versions: versions,
		logger:   logger,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		locks:    newPathLocks(),
	}
}

// acquire takes a worker slot for one caller operation.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("noteservice: waiting for a worker: %w", err)
	}
	return func() { s.sem.Release(1) }, nil
}

func (s *Service) now() time.Time { return s.cfg.Now().UTC() }

// limit applies the default and ceiling to a caller-supplied page size.
func (s *Service) limit(n int) int {
	switch {
	case n <= 0:
		return s.cfg.DefaultLimit
	case n > s.cfg.MaxLimit:
		return s.cfg.MaxLimit
	}
	return n
}
