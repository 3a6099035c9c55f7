package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docscope/internal/app"
	"docscope/internal/indexer"
	"docscope/internal/queue"
	"docscope/internal/watcher"
)

// ingestHandler indexes the PDF named by an ingest task. Staged uploads are
// removed once indexed; watched files are left in place.
func ingestHandler(deps app.Deps) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		p, err := queue.DecodeIngest(task)
		if err != nil {
			deps.Log.Error("dropping malformed ingest task", "task_id", task.ID, "err", err)
			return nil
		}
		log := deps.Log.With("task_id", task.ID, "path", p.Path, "attempt", task.Attempts+1)

		res, err := deps.Manager.IngestFile(ctx, p.Path, indexer.IngestOptions{Filename: p.Filename, Fresh: p.Fresh})
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Warn("file vanished before ingestion", "err", err)
				return nil
			}
			log.Warn("ingestion failed", "err", err)
			return err
		}
		log.Info("document ingested",
			"doc_id", res.DocID,
			"sections", res.Sections,
			"embedded", res.Embedded,
			"duplicate", res.Duplicate,
		)
		if isStaged(deps, p.Path) {
			if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("failed to remove staged upload", "err", err)
			}
		}
		return nil
	}
}

func isStaged(deps app.Deps, path string) bool {
	rel, err := filepath.Rel(deps.Config.StagingDir(), path)
	return err == nil && !strings.HasPrefix(rel, "..")
}

// enqueueWatched turns settled files from the watch directory into ingest
// tasks.
func enqueueWatched(deps app.Deps) watcher.Func {
	return func(ctx context.Context, path string) error {
		task, err := queue.NewIngestTask(queue.IngestPayload{Path: path, Filename: filepath.Base(path)})
		if err != nil {
			return err
		}
		if err := queue.EnqueueWithRetry(ctx, deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			return err
		}
		deps.Log.Info("queued watched file", "path", path, "task_id", task.ID)
		return nil
	}
}
