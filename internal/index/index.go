package index

import (
	"context"
	"time"

	"github.com/starford/notebase/internal/models"
)

// TextIndex is the full-text half of the derived store.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with stubs.
type TextIndex interface {
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, path string) error
	Rebuild(ctx context.Context, docs []Document) error
	Get(ctx context.Context, path string) (*Document, error)
	Checksums(ctx context.Context) (map[string]string, error)
	Under(ctx context.Context, folder string) ([]Document, error)
	WithTag(ctx context.Context, tag string) ([]Document, error)
	Recent(ctx context.Context, limit int, since time.Time) ([]Document, error)
	Tags(ctx context.Context) ([]models.TagCount, error)
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, req SearchRequest) (*SearchPage, error)
}

// LinkGraph is the backlink half of the derived store.
type LinkGraph interface {
	SetLinks(ctx context.Context, source string, edges []models.LinkEdge) error
	RemoveSource(ctx context.Context, source string) error
	RebuildLinks(ctx context.Context, edges []models.LinkEdge) error
	BacklinksTo(ctx context.Context, target string) ([]models.BacklinkSource, error)
	LinksFrom(ctx context.Context, source string) ([]models.LinkEdge, error)
}

// Verify *DB satisfies both interfaces at compile time.
var (
	_ TextIndex = (*DB)(nil)
	_ LinkGraph = (*DB)(nil)
)
