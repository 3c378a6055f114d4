// Package maint runs periodic housekeeping tasks on cron schedules:
// session-index reconciliation and usage-archive pruning.
package maint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marrowlabs/ferryman/internal/logger"
)

// Task is one scheduled job.
type Task struct {
	Name     string
	Schedule cron.Schedule
	Run      func(ctx context.Context) error

	nextRun time.Time
	running bool
}

// Runner fires tasks when their schedule is due, checking once a minute.
// An invocation still running when its next slot arrives is skipped.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks []*Task
}

func NewRunner() *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{ctx: ctx, cancel: cancel}
}

// Add registers a task with a standard 5-field cron expression.
func (r *Runner) Add(name, cronExpr string, run func(ctx context.Context) error) error {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("task %s: invalid cron expression %q: %w", name, cronExpr, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, &Task{
		Name:     name,
		Schedule: schedule,
		Run:      run,
		nextRun:  schedule.Next(time.Now()),
	})
	return nil
}

// Start begins the scheduler loop.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
	logger.Info("Maintenance runner started with %d tasks", len(r.tasks))
}

// Stop cancels the loop and waits for in-flight tasks.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	logger.Info("Maintenance runner stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.fireDue(now)
		}
	}
}

func (r *Runner) fireDue(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, task := range r.tasks {
		if now.Before(task.nextRun) {
			continue
		}
		task.nextRun = task.Schedule.Next(now)
		if task.running {
			logger.Info("maintenance: %s still running, skipping this slot", task.Name)
			continue
		}
		task.running = true

		r.wg.Add(1)
		go func(t *Task) {
			defer r.wg.Done()
			start := time.Now()
			if err := t.Run(r.ctx); err != nil {
				logger.Error("maintenance: %s failed: %v", t.Name, err)
			} else {
				logger.Info("maintenance: %s completed in %s", t.Name, time.Since(start).Round(time.Millisecond))
			}
			r.mu.Lock()
			t.running = false
			r.mu.Unlock()
		}(task)
	}
}
