// Command pagefab runs the page generation service: it loads the dimension
// models and templates, recovers interrupted jobs, and exposes the HTTP
// control surface.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/pagefab/batch"
	"github.com/hazyhaar/pagefab/compose"
	"github.com/hazyhaar/pagefab/config"
	"github.com/hazyhaar/pagefab/dbopen"
	"github.com/hazyhaar/pagefab/indexing"
	"github.com/hazyhaar/pagefab/observability"
	"github.com/hazyhaar/pagefab/publish"
	"github.com/hazyhaar/pagefab/quality"
	_ "modernc.org/sqlite"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfgPath := env("PAGEFAB_CONFIG", "pagefab.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	models, err := cfg.BuildModels()
	if err != nil {
		slog.Error("build models", "error", err)
		os.Exit(1)
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(),
		dbopen.WithSchema(batch.Schema+quality.SQLiteSchema+indexing.Schema+observability.Schema))
	if err != nil {
		slog.Error("open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	events := observability.NewEventLogger(db)
	store := batch.NewStore(db)

	// Jobs left running by a crash resume only on explicit operator action.
	recovered, err := store.RecoverInterrupted(ctx)
	if err != nil {
		slog.Error("recover interrupted jobs", "error", err)
		os.Exit(1)
	}
	if recovered > 0 {
		slog.Warn("interrupted jobs paused at boot", "count", recovered)
	}

	token := env("PAGEFAB_CMS_TOKEN", cfg.Publisher.Token)
	publisher := publish.NewHTTP(cfg.Publisher.URL, token)

	idx := indexing.New(db, cfg.Indexing.Service(),
		indexing.WithEvents(events), indexing.WithLogger(logger))

	queue := batch.New(store, batch.Deps{
		Models:    models,
		Templates: cfg.TemplateMap(),
		Registry:  compose.DefaultRegistry(),
		Corpus:    quality.NewSQLiteStore(db),
		Publisher: publisher,
		Fragments: compose.DirFragments{Root: cfg.ContentDir},
		Registrar: idx,
		Events:    events,
		Logger:    logger,
	}, cfg.Queue.Batch())
	defer queue.Close()

	scheduler, err := indexing.NewScheduler(idx, cfg.Schedules, logger)
	if err != nil {
		slog.Error("indexing scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: newRouter(&server{
			queue:      queue,
			idx:        idx,
			thresholds: cfg.Thresholds,
			log:        logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	slog.Info("pagefab listening", "addr", cfg.Listen, "models", len(models), "templates", len(cfg.Templates))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("serve", "error", err)
		os.Exit(1)
	}
}
