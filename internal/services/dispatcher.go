package services

import (
	"context"
	"log"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/cardbinder/collector/internal/metrics"
)

// TaskFunc is a background task body. Tasks are fire-and-forget: the
// enqueueing request returns before the task runs, tasks carry no ordering
// guarantee relative to each other, and a failed task is not retried
// automatically. Bodies must therefore be idempotent.
type TaskFunc func(ctx context.Context) error

// Dispatcher is the message-passing boundary between request handling and
// background work. The public contract is "task enqueued", never "task
// completed".
type Dispatcher interface {
	Enqueue(name string, fn TaskFunc)
}

// PoolDispatcher runs tasks on a bounded worker pool. Enqueue never blocks:
// a saturated pool delays the task, not the caller. A task failure or panic
// terminates that task only.
type PoolDispatcher struct {
	ctx  context.Context
	pool *pool.Pool
	wg   sync.WaitGroup
}

func NewPoolDispatcher(ctx context.Context, maxWorkers int) *PoolDispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &PoolDispatcher{
		ctx:  ctx,
		pool: pool.New().WithMaxGoroutines(maxWorkers),
	}
}

func (d *PoolDispatcher) Enqueue(name string, fn TaskFunc) {
	metrics.TasksEnqueuedTotal.WithLabelValues(name).Inc()
	d.wg.Add(1)
	run := func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.TaskFailuresTotal.WithLabelValues(name).Inc()
				log.Printf("PANIC in task %s: %v", name, r)
			}
		}()
		if err := fn(d.ctx); err != nil {
			metrics.TaskFailuresTotal.WithLabelValues(name).Inc()
			log.Printf("Task %s failed: %v", name, err)
		}
	}
	// Hand off on a separate goroutine; pool.Go blocks while all workers
	// are busy
	go d.pool.Go(run)
}

// Wait blocks until all enqueued tasks have finished. Called on shutdown.
func (d *PoolDispatcher) Wait() {
	d.wg.Wait()
	d.pool.Wait()
}

// SyncDispatcher runs each task inline and records what was enqueued. Tests
// inject it to assert task names and effects without a real queue.
type SyncDispatcher struct {
	Enqueued []string
	Errs     []error
}

func (d *SyncDispatcher) Enqueue(name string, fn TaskFunc) {
	d.Enqueued = append(d.Enqueued, name)
	if err := fn(context.Background()); err != nil {
		d.Errs = append(d.Errs, err)
	}
}
