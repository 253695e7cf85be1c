package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of side-effect work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type WorkerPool struct {
	numWorkers int
	jobs       chan Task
	wg         sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewWorkerPool(numWorkers int, bufferSize int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		jobs:       make(chan Task, bufferSize),
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 1; i <= wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.run(ctx, id, task)
		}
	}
}

func (wp *WorkerPool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", "task", task.Name, "worker", id, "panic", r)
		}
	}()
	if err := task.Run(ctx); err != nil {
		slog.Warn("task failed", "task", task.Name, "worker", id, "error", err)
	}
}

// Submit queues task without blocking. It reports false when the queue is
// full or the pool is stopped.
func (wp *WorkerPool) Submit(task Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}
	select {
	case wp.jobs <- task:
		return true
	default:
		return false
	}
}

func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
}
