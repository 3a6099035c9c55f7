package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"docscope/internal/app"
	"docscope/internal/httputil"
	"docscope/internal/queue"
	"docscope/internal/watcher"
)

const (
	shutdownTimeout = 15 * time.Second
	watchDebounce   = 2 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	runErr := run(ctx, deps)
	if err := deps.Close(); err != nil {
		deps.Log.Error("failed to close", "err", err)
	}
	if runErr != nil {
		deps.Log.Error("server failed", "err", runErr)
		os.Exit(1)
	}
}

// run serves HTTP, consumes ingest tasks and, when configured, watches a
// directory until ctx ends or one of them fails.
func run(ctx context.Context, deps app.Deps) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	workers := deps.Config.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	for range workers {
		g.Go(func() error {
			return deps.Queue.Worker(ctx, queue.TaskTypeIngest, ingestHandler(deps))
		})
	}
	if deps.Config.WatchDir != "" {
		w := watcher.New(deps.Config.WatchDir, watchDebounce, enqueueWatched(deps), deps.Log)
		g.Go(func() error { return w.Run(ctx) })
	}
	g.Go(func() error {
		deps.Log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		deps.Log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(deps app.Deps) chi.Router {
	r := httputil.NewRouter(deps.Log)

	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/upload/bulk", bulkUploadHandler(deps))
		r.Post("/upload/fresh", freshUploadHandler(deps))
		r.Post("/upload/async", asyncUploadHandler(deps))
		r.Get("/", listDocumentsHandler(deps))
		r.Get("/{docID}", getDocumentHandler(deps))
		r.Get("/{docID}/sections/{sectionID}", getSectionHandler(deps))
		r.Delete("/{docID}", deleteDocumentHandler(deps))
	})
	r.Get("/api/stats", statsHandler(deps))
	r.Post("/api/selection/related", relatedHandler(deps))
	r.Post("/api/selection/navigate", navigateHandler(deps))

	r.Get("/healthz", httputil.HealthHandler(deps.Log))
	r.Get("/readyz", httputil.ReadyHandler(deps.Log, func(ctx context.Context) error {
		_, err := deps.Manager.Stats(ctx)
		return err
	}))
	return r
}
