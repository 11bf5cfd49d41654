package workers

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"tgdog/internal/logger"
)

// worker is the main worker goroutine that drains the task queue.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panic recovered",
				fmt.Errorf("panic: %v", r),
				logger.Field{Key: "worker_id", Value: id})
		}
	}()

	for {
		select {
		case task := <-p.taskQueue:
			p.processTask(id, task)
		case <-p.ctx.Done():
			// Drain what was already queued before stopping.
			for {
				select {
				case task := <-p.taskQueue:
					p.processTask(id, task)
				default:
					return
				}
			}
		}
	}
}

// processTask writes one file and reports the result.
func (p *WorkerPool) processTask(workerID int, task Task) {
	start := time.Now()

	err := p.writeFile(task)
	result := Result{
		TaskID:   task.ID,
		Dest:     task.Dest,
		Error:    err,
		Duration: time.Since(start),
	}

	if err != nil {
		p.incrementFailed()
		p.logger.Error("file write failed", err,
			logger.Field{Key: "worker_id", Value: workerID},
			logger.Field{Key: "task_id", Value: task.ID},
			logger.Field{Key: "dest", Value: task.Dest})
	} else {
		p.incrementCompleted()
		p.logger.Debug("file written",
			logger.Field{Key: "worker_id", Value: workerID},
			logger.Field{Key: "task_id", Value: task.ID},
			logger.Field{Key: "dest", Value: task.Dest},
			logger.Field{Key: "duration_ms", Value: result.Duration.Milliseconds()})
	}
	p.recordDuration(result.Duration)

	select {
	case p.resultCh <- result:
	default:
		// Nobody is consuming results; do not block the worker.
	}
}

func (p *WorkerPool) writeFile(task Task) error {
	if task.Context != nil {
		if err := task.Context.Err(); err != nil {
			return err
		}
	}
	if task.Dest == "" {
		return fmt.Errorf("task %s has no destination", task.ID)
	}

	mode := fs.FileMode(task.Mode)
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(task.Dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(task.Dest, task.Data, mode)
}
