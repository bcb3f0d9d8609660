package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrPoolNotStarted = errors.New("worker pool is not started")
	ErrPoolClosed     = errors.New("worker pool is closed")
)

// WorkerPool hands submitted tasks to a fixed set of workers. The
// number of workers bounds how many tasks may execute at once. The
// 'Wg' WaitGroup is automatically controlled by the WorkerPool.
type WorkerPool struct {
	sync.Mutex
	workers []Worker
	tasks   chan Task
	quit    chan struct{}
	Wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewWorkerPool creates a new WorkerPool struct
// and initialises the 'workers' slice.
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{
		workers: make([]Worker, 0),
		tasks:   make(chan Task),
		quit:    make(chan struct{}),
	}
}

// NewSizedWorkerPool creates a pool and pushes 'size' workers
// labelled using the prefix provided.
func NewSizedWorkerPool(prefix string, size int) *WorkerPool {
	pool := NewWorkerPool()
	for i := 0; i < size; i++ {
		_ = pool.PushWorker(NewWorker(fmt.Sprintf("%s:%d", prefix, i)))
	}

	return pool
}

// Start cycles through all the workers
// currently inside the WorkerPool and creates
// a goroutine for each.
//
// Start does NOT block, however consumers
// can wait on the WaitGroup in the pool if they
// wish.
func (pool *WorkerPool) Start() error {
	pool.Lock()
	defer pool.Unlock()

	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}
	if len(pool.workers) == 0 {
		return errors.New("cannot start a worker pool with no workers")
	}

	pool.started = true
	for _, worker := range pool.workers {
		pool.Wg.Add(1)
		go func(wg *sync.WaitGroup, w Worker) {
			defer wg.Done()
			w.Start(pool.tasks, pool.quit)
		}(&pool.Wg, worker)
	}

	return nil
}

// PushWorker inserts the worker provided in to the worker pool. Workers
// cannot be added once the pool has been started.
func (pool *WorkerPool) PushWorker(workers ...Worker) error {
	pool.Lock()
	defer pool.Unlock()

	if pool.started {
		return errors.New("cannot push worker to already started worker pool")
	}

	pool.workers = append(pool.workers, workers...)
	return nil
}

// Submit blocks until an idle worker accepts the task, the pool is closed,
// or the context provided is done. A nil error guarantees the task
// has been handed to a worker and will be executed.
func (pool *WorkerPool) Submit(ctx context.Context, task Task) error {
	pool.Lock()
	started, closed := pool.started, pool.closed
	pool.Unlock()

	if closed {
		return ErrPoolClosed
	}
	if !started {
		return ErrPoolNotStarted
	}

	select {
	case pool.tasks <- task:
		return nil
	case <-pool.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Size returns the number of workers in the pool
func (pool *WorkerPool) Size() int {
	pool.Lock()
	defer pool.Unlock()

	return len(pool.workers)
}

// Close signals all workers to stop once their current task
// is complete, and waits for them to exit.
func (pool *WorkerPool) Close() {
	pool.Lock()
	if !pool.started || pool.closed {
		pool.Unlock()
		return
	}

	pool.closed = true
	close(pool.quit)
	pool.Unlock()

	pool.Wg.Wait()
}
