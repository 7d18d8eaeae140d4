package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/observability"
)

type task struct {
	name string
	run  func(ctx context.Context) error
	done func(err error)
}

// TaskQueue runs fire-and-forget calls (violation log, review requests) on a
// single background goroutine. Enqueue never blocks: a full queue drops the
// task and reports it as failed.
type TaskQueue struct {
	tasks   chan task
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewTaskQueue starts the worker goroutine.
func NewTaskQueue(size int, timeout time.Duration, log zerolog.Logger) *TaskQueue {
	if size < 1 {
		size = 1
	}
	q := &TaskQueue{
		tasks:   make(chan task, size),
		timeout: timeout,
		log:     log.With().Str("component", "task_queue").Logger(),
	}
	q.wg.Add(1)
	go q.work()
	return q
}

// Enqueue schedules run. done, if set, is called with the result once the
// task finished, or with ErrSessionClosed if it was dropped.
func (q *TaskQueue) Enqueue(name string, run func(ctx context.Context) error, done func(err error)) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(name, done)
		return false
	}

	select {
	case q.tasks <- task{name: name, run: run, done: done}:
		return true
	default:
		q.drop(name, done)
		return false
	}
}

func (q *TaskQueue) drop(name string, done func(error)) {
	observability.DroppedTasks().WithLabelValues(name).Inc()
	q.log.Warn().Str("task", name).Msg("Task dropped")
	if done != nil {
		done(ErrSessionClosed)
	}
}

func (q *TaskQueue) work() {
	defer q.wg.Done()
	for t := range q.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := t.run(ctx)
		cancel()

		if err != nil {
			q.log.Warn().Err(err).Str("task", t.name).Msg("Task failed")
		}
		if t.done != nil {
			t.done(err)
		}
	}
}

// Close stops accepting tasks and waits for queued ones until ctx expires.
func (q *TaskQueue) Close(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		q.log.Warn().Msg("Task queue close timed out, abandoning remaining tasks")
	}
}
