// Package watcher keeps the derived stores in step with note files edited
// outside the service.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/notebase/internal/noteservice"
)

// DefaultDebounce is how long the watcher waits after a rename or a new
// directory before reconciling the whole vault.
const DefaultDebounce = 200 * time.Millisecond

// Reconciler re-derives notes after external changes.
type Reconciler interface {
	Reindex(ctx context.Context, path string) (bool, error)
	Forget(ctx context.Context, path string) error
	Reconcile(ctx context.Context) (*noteservice.ReconcileResult, error)
}

var _ Reconciler = (*noteservice.Service)(nil)

// Vault maps file names under the vault root to note paths.
type Vault interface {
	Root() string
	NotePath(file string) (string, bool)
}

// EventCallback is called after a watcher-driven change. kind is one of
// "updated", "deleted" or "reconciled".
type EventCallback func(kind string, path string)

// Watcher feeds file events to a Reconciler.
type Watcher struct {
	vault    Vault
	rec      Reconciler
	logger   *slog.Logger
	debounce time.Duration
	cb       EventCallback
}

// New creates a watcher. cb may be nil.
func New(vault Vault, rec Reconciler, logger *slog.Logger, cb EventCallback) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{vault: vault, rec: rec, logger: logger, debounce: DefaultDebounce, cb: cb}
}

// Run watches the vault until ctx is cancelled.
//
// New directories are added to the watch list as they appear. Renames only
// report the old name, so they and new directories trigger a debounced
// reconciliation pass that picks up whatever arrived under a new name.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	root := w.vault.Root()
	if err := addDirsRecursive(fw, root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", root))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
			return
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			w.reconcile(ctx)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if strings.HasPrefix(filepath.Base(ev.Name), ".") {
						continue
					}
					if addErr := addDirsRecursive(fw, ev.Name); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					schedule()
					continue
				}
			}

			path, ok := w.vault.NotePath(ev.Name)
			if !ok {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.reindex(ctx, path)
			case ev.Op&fsnotify.Remove != 0:
				w.forget(ctx, path)
			case ev.Op&fsnotify.Rename != 0:
				w.forget(ctx, path)
				schedule()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) reindex(ctx context.Context, path string) {
	changed, err := w.rec.Reindex(ctx, path)
	if err != nil {
		w.logger.Warn("watcher: reindex failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if !changed {
		return
	}
	w.logger.Debug("watcher: reindexed", slog.String("path", path))
	w.notify("updated", path)
}

func (w *Watcher) forget(ctx context.Context, path string) {
	if err := w.rec.Forget(ctx, path); err != nil {
		w.logger.Warn("watcher: forget failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: forgot", slog.String("path", path))
	w.notify("deleted", path)
}

func (w *Watcher) reconcile(ctx context.Context) {
	res, err := w.rec.Reconcile(ctx)
	if err != nil {
		w.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
		return
	}
	if res.Indexed > 0 || res.Removed > 0 {
		w.notify("reconciled", "")
	}
}

func (w *Watcher) notify(kind, path string) {
	if w.cb != nil {
		w.cb(kind, path)
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		return fw.Add(path)
	})
}
