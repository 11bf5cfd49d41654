// Package workers provides an async worker pool for background file
// writes. Download and export operations hand finished payloads to the
// pool so remote fetching is not serialized behind local disk I/O.
package workers

import (
	"context"
	"time"
)

// Task represents one pending write.
type Task struct {
	ID      string          // Unique task identifier
	Type    string          // Task type: "download" or "export"
	Dest    string          // Destination path on disk
	Data    []byte          // File contents
	Mode    uint32          // File mode; zero means 0644
	Context context.Context // Task-specific context for cancellation
}

// Result represents the outcome of a task execution.
type Result struct {
	TaskID   string
	Dest     string
	Error    error
	Duration time.Duration
}

// PoolMetrics tracks execution metrics for the worker pool.
type PoolMetrics struct {
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TotalDuration  time.Duration
}

const (
	DefaultPoolSize  = 4
	DefaultQueueSize = 64
)
