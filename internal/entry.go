// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notebase/internal/api"
	"github.com/starford/notebase/internal/backup"
	"github.com/starford/notebase/internal/history"
	"github.com/starford/notebase/internal/index"
	"github.com/starford/notebase/internal/mcpserver"
	"github.com/starford/notebase/internal/noteservice"
	"github.com/starford/notebase/internal/storage"
	"github.com/starford/notebase/internal/watcher"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{mode: ModeServe}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	out := app.logOut
	if out == nil {
		out = os.Stdout
		if app.mode == ModeMCP {
			out = os.Stderr
		}
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("mode", string(app.mode)),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("history_path", cfg.History.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.close(logger)

	svc := noteservice.NewService(st.vault, st.db, st.db, st.history, logger, cfg.ServiceConfig())

	switch app.mode {
	case ModeRebuild:
		return runRebuild(ctx, svc, logger)
	case ModeExport:
		return runExport(ctx, svc, app.archive, logger)
	case ModeImport:
		return runImport(ctx, svc, app.archive, app.replace, logger)
	case ModeClear:
		return runClear(ctx, svc, logger)
	case ModeMCP:
		reconcile(ctx, svc, logger)
		return runMCP(svc, cfg)
	case ModeServe:
		reconcile(ctx, svc, logger)
		return runServe(ctx, cfg, svc, st.vault, logger)
	default:
		return fmt.Errorf("unknown mode %q", app.mode)
	}
}

type stores struct {
	vault   *storage.FS
	db      *index.DB
	history *history.Log
}

func openStores(cfg *Config) (*stores, error) {
	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	vault, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path, cfg.Search.IndexOptions())
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init history: %w", err)
	}

	return &stores{vault: vault, db: db, history: hist}, nil
}

func (s *stores) close(logger *slog.Logger) {
	if err := s.history.Close(); err != nil {
		logger.Error("close history", slog.String("error", err.Error()))
	}
	if err := s.db.Close(); err != nil {
		logger.Error("close index", slog.String("error", err.Error()))
	}
}

// reconcile catches the derived stores up with edits made while the
// service was down.
func reconcile(ctx context.Context, svc *noteservice.Service, logger *slog.Logger) {
	res, err := svc.Reconcile(ctx)
	if err != nil {
		logger.Warn("initial reconcile failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("Vault reconciled",
		slog.Int("indexed", res.Indexed),
		slog.Int("removed", res.Removed))
}

func runRebuild(ctx context.Context, svc *noteservice.Service, logger *slog.Logger) error {
	start := time.Now()
	res, err := svc.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	for _, p := range res.Skipped {
		logger.Warn("skipped undecodable note", slog.String("path", p))
	}
	logger.Info("Rebuild finished",
		slog.Int("reindexed", res.Reindexed),
		slog.Int("skipped", len(res.Skipped)),
		slog.Duration("took", time.Since(start)))
	return nil
}

func runExport(ctx context.Context, svc *noteservice.Service, path string, logger *slog.Logger) (err error) {
	if path == "" {
		path = backup.FileName(time.Now())
	}
	if !strings.HasSuffix(path, ".tar.gz") {
		path += ".tar.gz"
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
	}()

	rep, err := svc.Export(ctx, f)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	logger.Info("Export finished",
		slog.Int("notes", rep.Exported),
		slog.String("archive", path))
	return nil
}

func runImport(ctx context.Context, svc *noteservice.Service, path string, replace bool, logger *slog.Logger) error {
	if path == "" {
		return fmt.Errorf("import: archive path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	res, err := svc.Import(ctx, f, replace)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	for _, name := range res.Ignored {
		logger.Warn("ignored archive entry", slog.String("name", name))
	}
	logger.Info("Import finished",
		slog.Int("imported", res.Imported),
		slog.Int("existing", res.Existing),
		slog.Int("removed", res.Removed),
		slog.Int("reindexed", res.Rebuild.Reindexed),
		slog.Bool("replace", replace))
	if res.Existing > 0 {
		logger.Info("existing notes were kept; import with --replace to overwrite them")
	}
	return nil
}

func runClear(ctx context.Context, svc *noteservice.Service, logger *slog.Logger) error {
	res, err := svc.Clear(ctx)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	logger.Info("Vault cleared", slog.Int("removed", res.Removed))
	return nil
}

func runMCP(svc *noteservice.Service, cfg *Config) error {
	srv := mcpserver.New(svc, cfg.Auth.Author)
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

func runServe(ctx context.Context, cfg *Config, svc *noteservice.Service, vault *storage.FS, logger *slog.Logger) error {
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.APIKeys(), cfg.Auth.Author)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := svc.ListTags(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	// Re-derive notes edited outside the service.
	if cfg.Vault.Watch {
		w := watcher.New(vault, svc, logger, func(kind, path string) {
			logger.Debug("vault change applied", slog.String("kind", kind), slog.String("path", path))
		})
		g.Go(func() error {
			if err := w.Run(gCtx); err != nil {
				return fmt.Errorf("watcher: %w", err)
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
