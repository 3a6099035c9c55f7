package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docscope/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	TaskTypeIngest TaskType = "ingest"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryBase   = time.Second
)

// ErrNoType is returned when a task is enqueued without a type.
var ErrNoType = errors.New("task type required")

// Task represents a unit of background work.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

// IngestPayload asks a worker to index one PDF already on local disk.
type IngestPayload struct {
	Path     string `json:"path"`
	Filename string `json:"filename,omitempty"`
	Fresh    bool   `json:"fresh,omitempty"`
}

// NewIngestTask builds an ingest task with a fresh id.
func NewIngestTask(p IngestPayload) (Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Task{}, err
	}
	return Task{ID: uuid.New(), Type: TaskTypeIngest, Payload: body, MaxAttempts: DefaultMaxAttempts}, nil
}

// DecodeIngest reads the payload of an ingest task.
func DecodeIngest(task Task) (IngestPayload, error) {
	var p IngestPayload
	if task.Type != TaskTypeIngest {
		return p, fmt.Errorf("unexpected task type %q", task.Type)
	}
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return p, fmt.Errorf("decode ingest payload: %w", err)
	}
	if p.Path == "" {
		return p, errors.New("ingest payload has no path")
	}
	return p, nil
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	return retry.Do(ctx, attempts, base, func(ctx context.Context) error {
		return q.Enqueue(ctx, task)
	})
}

// nextAttempt records a failed attempt. It returns the task to re-enqueue and
// true, or false once the task has used all its attempts.
func nextAttempt(task Task, base time.Duration, now time.Time) (Task, bool) {
	task.Attempts++
	if task.MaxAttempts == 0 {
		task.MaxAttempts = DefaultMaxAttempts
	}
	if task.Attempts >= task.MaxAttempts {
		return task, false
	}
	task.NotBefore = now.Add(retry.ExponentialBackoff(task.Attempts, base))
	return task, true
}

// waitUntil blocks until t or until ctx ends.
func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
