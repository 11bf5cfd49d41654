// Package sched fires configured tasks on cron triggers through the
// action dispatcher. It uses the robfig/cron/v3 library for trigger
// parsing and scheduling.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tgdog/internal/action"
	"tgdog/internal/config"
	"tgdog/internal/logger"
)

// Runner executes one dispatched action. The action dispatcher satisfies
// it; tests substitute fakes.
type Runner interface {
	Dispatch(ctx context.Context, req action.Request) (any, error)
}

// job is one registered task with its parsed trigger.
type job struct {
	id       string
	task     config.Task
	schedule cron.Schedule
}

// Scheduler registers one recurring trigger per configured task. Task IDs
// are stable across restarts: task_<n> by position in the configured
// list, so persisted state survives a daemon restart as long as the list
// order does.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	runner Runner
	state  *StateStore
	logger *logger.Logger

	// OnRun, if set, observes every firing outcome (used for metrics).
	// status is "ok", "error" or "skipped".
	OnRun func(taskID, status string)

	jobs []job

	mu      sync.Mutex
	running map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a scheduler over the configured task list. state may be nil;
// missed firings are then not coalesced across restarts.
func New(runner Runner, state *StateStore, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		runner:  runner,
		state:   state,
		logger:  log,
		running: make(map[string]bool),
	}
}

// Register validates each task's trigger and schedules the valid ones.
// A task with a missing or unparseable trigger is skipped with a warning;
// the remaining tasks still register. Returns the number of registered
// tasks.
func (s *Scheduler) Register(tasks []config.Task) int {
	for i, task := range tasks {
		id := fmt.Sprintf("task_%d", i)

		if task.TriggerTime == "" {
			s.logger.Warn("task has no trigger_time, skipping",
				logger.Field{Key: "task", Value: id})
			continue
		}
		schedule, err := s.parser.Parse(task.TriggerTime)
		if err != nil {
			s.logger.Warn("task has invalid trigger_time, skipping",
				logger.Field{Key: "task", Value: id},
				logger.Field{Key: "trigger_time", Value: task.TriggerTime},
				logger.Field{Key: "error", Value: err})
			continue
		}

		j := job{id: id, task: task, schedule: schedule}
		s.jobs = append(s.jobs, j)
		s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(j) }))

		s.logger.Info("scheduled task registered",
			logger.Field{Key: "task", Value: id},
			logger.Field{Key: "trigger_time", Value: task.TriggerTime},
			logger.Field{Key: "action", Value: task.ActionType})
	}
	return len(s.jobs)
}

// Start begins firing triggers and runs catch-up for firings missed while
// the process was down.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.catchUp()
	s.cron.Start()
	s.logger.Info("scheduler started",
		logger.Field{Key: "tasks", Value: len(s.jobs)})
}

// catchUp fires each task at most once if one or more trigger times
// passed since its recorded last firing. Intermediate missed firings are
// coalesced away, never queued.
func (s *Scheduler) catchUp() {
	if s.state == nil {
		return
	}

	for _, j := range s.jobs {
		now := time.Now()
		last, ok := s.state.LastFire(j.id)
		if !ok {
			// First sighting: baseline without firing.
			s.state.SetLastFire(j.id, now)
			continue
		}
		// The catch-up fire runs in a goroutine; fire records its own
		// last-fire time and holds the running-map guard, so a cron
		// firing racing the catch-up cannot double-run the task.
		if next := j.schedule.Next(last); next.Before(now) {
			s.logger.Info("running catch-up for missed firing",
				logger.Field{Key: "task", Value: j.id},
				logger.Field{Key: "missed_since", Value: last.Format(time.RFC3339)})
			go s.fire(j)
		}
	}
}

// fire runs one task firing. A firing whose predecessor is still running
// is dropped. Dispatch failures are logged and discarded at this
// boundary; they never propagate into the scheduler.
func (s *Scheduler) fire(j job) {
	s.mu.Lock()
	if s.running[j.id] {
		s.mu.Unlock()
		s.logger.Warn("previous run still active, skipping firing",
			logger.Field{Key: "task", Value: j.id})
		s.observe(j.id, "skipped")
		return
	}
	s.running[j.id] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, j.id)
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				fmt.Errorf("panic: %v", r),
				logger.Field{Key: "task", Value: j.id})
			s.observe(j.id, "error")
		}
	}()

	if s.state != nil {
		s.state.SetLastFire(j.id, time.Now())
	}

	req := action.Request{
		Action:  j.task.ActionType,
		Profile: j.task.Profile,
		Target:  j.task.Target,
		Payload: j.task.Payload,
	}
	if _, err := s.runner.Dispatch(s.ctx, req); err != nil {
		s.logger.Error("scheduled task failed", err,
			logger.Field{Key: "task", Value: j.id},
			logger.Field{Key: "action", Value: j.task.ActionType})
		s.observe(j.id, "error")
		return
	}

	s.logger.Debug("scheduled task completed",
		logger.Field{Key: "task", Value: j.id})
	s.observe(j.id, "ok")
}

func (s *Scheduler) observe(taskID, status string) {
	if s.OnRun != nil {
		s.OnRun(taskID, status)
	}
}

// Stop halts trigger firing without waiting for a currently running job.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}
