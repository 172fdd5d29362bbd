package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var ErrPoolStopped = errors.New("worker pool stopped")

type Task func()

// WorkerPool runs tasks on a fixed number of goroutines. A panicking task is
// logged and does not take its worker down.
type WorkerPool struct {
	tasks         chan Task
	wg            sync.WaitGroup
	activeWorkers int
	busyWorkers   int
	maxWorkers    int
	logger        zerolog.Logger
	mu            sync.RWMutex

	stopMu  sync.RWMutex
	stopped bool
}

func NewWorkerPool(maxWorkers int, logger zerolog.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		tasks:      make(chan Task, maxWorkers*2),
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

func (wp *WorkerPool) Start() {
	wp.logger.Debug().Int("max_workers", wp.maxWorkers).Msg("Starting worker pool")
	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop waits for every queued task to finish. Submit fails afterwards.
func (wp *WorkerPool) Stop() {
	wp.stopMu.Lock()
	if wp.stopped {
		wp.stopMu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.tasks)
	wp.stopMu.Unlock()

	wp.wg.Wait()
	wp.logger.Debug().Msg("Worker pool stopped")
}

// Submit blocks until a worker queue slot is free or ctx is done. Tasks are
// never dropped once Submit returns nil.
func (wp *WorkerPool) Submit(ctx context.Context, task Task) error {
	wp.stopMu.RLock()
	defer wp.stopMu.RUnlock()
	if wp.stopped {
		return ErrPoolStopped
	}

	select {
	case wp.tasks <- task:
		return nil
	default:
	}

	wp.logger.Debug().Msg("Worker pool task queue is full")
	select {
	case wp.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()

	for task := range wp.tasks {
		wp.run(id, task)
	}

	wp.mu.Lock()
	wp.activeWorkers--
	wp.mu.Unlock()
}

func (wp *WorkerPool) run(id int, task Task) {
	wp.mu.Lock()
	wp.busyWorkers++
	wp.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Int("worker_id", id).
				Interface("panic", r).
				Msg("Worker recovered from panic")
		}
		wp.mu.Lock()
		wp.busyWorkers--
		wp.mu.Unlock()
	}()

	task()
}

func (wp *WorkerPool) GetStats() map[string]interface{} {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return map[string]interface{}{
		"active_workers": wp.activeWorkers,
		"busy_workers":   wp.busyWorkers,
		"max_workers":    wp.maxWorkers,
		"queue_length":   len(wp.tasks),
		"queue_capacity": cap(wp.tasks),
	}
}
