package workers

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"tgdog/internal/logger"
)

// WorkerPool manages a pool of goroutine workers writing files concurrently.
type WorkerPool struct {
	taskQueue chan Task
	resultCh  chan Result
	workers   int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *logger.Logger

	metricsMu sync.RWMutex
	metrics   PoolMetrics
}

// NewPool creates a new worker pool with the specified configuration.
func NewPool(workers int, bufferSize int, log *logger.Logger) *WorkerPool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if bufferSize <= 0 {
		bufferSize = DefaultQueueSize
	}
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		taskQueue: make(chan Task, bufferSize),
		resultCh:  make(chan Result, bufferSize),
		workers:   workers,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log,
	}
}

// Start initializes and starts all worker goroutines.
func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool",
		logger.Field{Key: "workers", Value: p.workers},
		logger.Field{Key: "buffer_size", Value: cap(p.taskQueue)})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues a task for execution, blocking while the queue is full.
// A task without an ID gets one assigned; the ID is returned either way.
func (p *WorkerPool) Submit(task Task) string {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	p.incrementSubmitted()

	p.logger.Debug("task submitted",
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "task_type", Value: task.Type},
		logger.Field{Key: "dest", Value: task.Dest})

	p.taskQueue <- task
	return task.ID
}

// SubmitWithContext attempts to submit a task, giving up when ctx expires.
func (p *WorkerPool) SubmitWithContext(ctx context.Context, task Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	p.incrementSubmitted()

	select {
	case p.taskQueue <- task:
		return task.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Results returns a read-only channel for receiving task results.
func (p *WorkerPool) Results() <-chan Result {
	return p.resultCh
}

// Stop gracefully shuts down the worker pool, waiting for in-flight
// writes to complete.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()

	metrics := p.Metrics()
	p.logger.Info("worker pool stopped",
		logger.Field{Key: "tasks_submitted", Value: metrics.TasksSubmitted},
		logger.Field{Key: "tasks_completed", Value: metrics.TasksCompleted},
		logger.Field{Key: "tasks_failed", Value: metrics.TasksFailed})
}

// QueueSize returns the current number of tasks waiting in the queue.
func (p *WorkerPool) QueueSize() int {
	return len(p.taskQueue)
}
