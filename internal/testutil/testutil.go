// Package testutil provides shared test helpers for setting up vaults, indexes
// and a wired coordinator.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/notebase/internal/history"
	"github.com/starford/notebase/internal/index"
	"github.com/starford/notebase/internal/noteservice"
	"github.com/starford/notebase/internal/storage"
)

// Epoch is the first instant handed out by a Clock.
var Epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Clock is a deterministic clock that advances one second per reading.
type Clock struct {
	mu  sync.Mutex
	cur time.Time
}

// NewClock returns a clock starting at Epoch.
func NewClock() *Clock { return &Clock{cur: Epoch} }

// Now returns the current reading and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.cur
	c.cur = c.cur.Add(time.Second)
	return t
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestDB creates a temporary SQLite index that is automatically closed.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"), index.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with its canonical store.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// TestHistory creates an in-memory version log.
func TestHistory(t *testing.T) *history.Log {
	t.Helper()
	l, err := history.NewInMemory()
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// Env is a fully wired coordinator over temporary stores.
type Env struct {
	VaultDir string
	Store    *storage.FS
	DB       *index.DB
	History  *history.Log
	Service  *noteservice.Service
}

// TestService wires a coordinator over a fresh vault, index and history.
func TestService(t *testing.T) *Env {
	t.Helper()
	dir, store := TestVault(t)
	db := TestDB(t)
	hist := TestHistory(t)
	cfg := noteservice.DefaultConfig()
	cfg.Now = NewClock().Now
	svc := noteservice.NewService(store, db, db, hist, Logger(), cfg)
	return &Env{VaultDir: dir, Store: store, DB: db, History: hist, Service: svc}
}
