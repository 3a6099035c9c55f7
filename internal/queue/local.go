package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Local is an in-process queue backed by buffered channels, one per task
// type. Failed tasks are re-enqueued with the same backoff as the NATS queue.
// Tasks still buffered when the process exits are lost.
type Local struct {
	log       *slog.Logger
	buffer    int
	retryBase time.Duration

	mu    sync.Mutex
	chans map[TaskType]chan Task
}

// NewLocal creates a local queue. retryBase <= 0 uses DefaultRetryBase.
func NewLocal(log *slog.Logger, buffer int, retryBase time.Duration) *Local {
	if buffer <= 0 {
		buffer = 64
	}
	if retryBase <= 0 {
		retryBase = DefaultRetryBase
	}
	return &Local{log: log, buffer: buffer, retryBase: retryBase, chans: make(map[TaskType]chan Task)}
}

func (q *Local) channel(t TaskType) chan Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.chans[t]
	if !ok {
		ch = make(chan Task, q.buffer)
		q.chans[t] = ch
	}
	return ch
}

// Enqueue blocks while the buffer for the task type is full.
func (q *Local) Enqueue(ctx context.Context, task Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Type == "" {
		return ErrNoType
	}
	select {
	case q.channel(task.Type) <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Worker handles tasks of one type until ctx ends.
func (q *Local) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	ch := q.channel(taskType)
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-ch:
			if err := waitUntil(ctx, task.NotBefore); err != nil {
				return nil
			}
			if err := handler(ctx, task); err != nil {
				q.retryTask(ctx, task, err)
			}
		}
	}
}

func (q *Local) retryTask(ctx context.Context, task Task, handlerErr error) {
	next, ok := nextAttempt(task, q.retryBase, time.Now())
	if !ok {
		q.log.Error("task permanently failed", "id", task.ID, "type", task.Type, "attempts", next.Attempts, "original_err", handlerErr)
		return
	}
	q.log.Warn("task failed; retrying", "id", task.ID, "type", task.Type, "attempt", next.Attempts, "err", handlerErr)
	// Re-enqueue off the worker goroutine so a full buffer cannot deadlock it.
	go func() {
		if err := q.Enqueue(ctx, next); err != nil {
			q.log.Error("failed to re-enqueue task after failure", "id", task.ID, "type", task.Type, "enqueue_err", err)
		}
	}()
}
